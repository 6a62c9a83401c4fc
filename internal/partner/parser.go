// Пакет partner — разбор устаревшего файла контактов партнёров PDQ
// и приведение его к нормализованному виду: продукты, организации, контакты.
package partner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrMalformed — файл не является текстом в UTF-8 или не читается.
var ErrMalformed = errors.New("некорректный файл реестра партнёров")

// Число полей записи: всего и обязательных (по дату активации включительно).
const (
	MaxFields      = 16
	RequiredFields = 13
)

// headerMarker — значение первой колонки строки-заголовка.
const headerMarker = "PRODUCT"

// dateLayouts — форматы дат, встречающиеся в файле.
// Двоеточие — разделитель полей, поэтому время суток в датах не встречается.
var dateLayouts = []string{"2006-01-02", "01/02/2006", "20060102"}

// Record — одна строка файла.
type Record struct {
	// Line — номер строки в файле (с 1)
	Line          int
	Product       string
	Notified      string
	Email         string
	PersonName    string
	OrgName       string
	Phone         string
	OrgStatus     string
	NotifiedCount int
	ContactType   string
	FTPUsername   string
	VendorID      string
	Activated     time.Time
	Terminated    *time.Time
	Renewal       *time.Time
	NotifDate     *time.Time
}

// ParseFile разбирает файл. Пустые строки, комментарии (#) и заголовок
// пропускаются молча; строки с неверным числом полей или
// нечитаемыми значениями пропускаются с предупреждением.
// Пароль из файла не сохраняется.
func ParseFile(data []byte) ([]Record, []string, error) {
	if !utf8.Valid(data) {
		return nil, nil, fmt.Errorf("%w: текст не в кодировке UTF-8", ErrMalformed)
	}

	var (
		records  []Record
		warnings []string
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(strings.TrimSpace(text), "#") {
			continue
		}
		fields := strings.Split(text, ":")
		if strings.EqualFold(strings.TrimSpace(fields[0]), headerMarker) {
			continue
		}
		rec, err := parseRecord(line, fields)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("строка %d: %v", line, err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return records, warnings, nil
}

func parseRecord(line int, fields []string) (Record, error) {
	if len(fields) < RequiredFields || len(fields) > MaxFields {
		return Record{}, fmt.Errorf("полей %d, ожидается от %d до %d", len(fields), RequiredFields, MaxFields)
	}
	for len(fields) < MaxFields {
		fields = append(fields, "")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rec := Record{
		Line:        line,
		Product:     fields[0],
		Notified:    fields[1],
		Email:       fields[2],
		PersonName:  fields[3],
		OrgName:     fields[4],
		Phone:       fields[5],
		OrgStatus:   strings.ToUpper(fields[6]),
		ContactType: strings.ToUpper(fields[8]),
		FTPUsername: fields[9],
		VendorID:    fields[11],
	}
	if rec.OrgName == "" {
		return Record{}, errors.New("не указана организация")
	}
	if rec.Product == "" {
		return Record{}, errors.New("не указан продукт")
	}

	if fields[7] != "" {
		n, err := strconv.Atoi(fields[7])
		if err != nil || n < 0 {
			return Record{}, fmt.Errorf("некорректное число уведомлений %q", fields[7])
		}
		rec.NotifiedCount = n
	}

	activated, err := parseDate(fields[12])
	if err != nil {
		return Record{}, fmt.Errorf("дата активации: %w", err)
	}
	if activated == nil {
		return Record{}, errors.New("не указана дата активации")
	}
	rec.Activated = *activated

	if rec.Terminated, err = parseDate(fields[13]); err != nil {
		return Record{}, fmt.Errorf("дата окончания: %w", err)
	}
	if rec.Renewal, err = parseDate(fields[14]); err != nil {
		return Record{}, fmt.Errorf("дата продления: %w", err)
	}
	if rec.NotifDate, err = parseDate(fields[15]); err != nil {
		return Record{}, fmt.Errorf("дата уведомления: %w", err)
	}
	return rec, nil
}

// parseDate разбирает дату; пустая строка — nil.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("некорректная дата %q", s)
}
