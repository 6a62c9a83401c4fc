// Пакет manifest — манифест клиентских файлов и протокол обновления
// толстого клиента: проверка тикета и вычисление дельты.
//
// Формат манифеста:
//
//	<Manifest>
//	  <Ticket>
//	    <Application/><Host/><Author/><Checksum/>?<Timestamp/>
//	  </Ticket>
//	  <FileList>
//	    <File><Name/><Checksum/>?<Timestamp/></File>...
//	  </FileList>
//	</Manifest>
package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName — имя файла манифеста в каталоге клиентских файлов.
const FileName = "CdrManifest.xml"

// TimeLayout — формат меток времени манифеста (точность до секунды).
const TimeLayout = "2006-01-02T15:04:05"

// ErrMalformed — манифест или тикет не разбирается.
var ErrMalformed = errors.New("некорректный манифест")

// Ticket — заголовок манифеста, компактная проверка актуальности.
type Ticket struct {
	XMLName     xml.Name `xml:"Ticket"`
	Application string   `xml:"Application"`
	Host        string   `xml:"Host"`
	Author      string   `xml:"Author"`
	Checksum    string   `xml:"Checksum,omitempty"`
	Timestamp   string   `xml:"Timestamp"`
}

// File — запись о файле клиента.
type File struct {
	Name      string `xml:"Name"`
	Checksum  string `xml:"Checksum,omitempty"`
	Timestamp string `xml:"Timestamp,omitempty"`
}

// Manifest — тикет и упорядоченный список файлов.
type Manifest struct {
	XMLName xml.Name `xml:"Manifest"`
	Ticket  Ticket   `xml:"Ticket"`
	Files   []File   `xml:"FileList>File"`
}

// Key — ключ сравнения записей: путь в верхнем регистре
// с прямыми слешами.
func Key(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
}

// Path переводит имя из манифеста в путь относительно каталога файлов.
func Path(name string) string {
	return filepath.FromSlash(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
}

// ParseTime разбирает метку времени манифеста.
// Допускается необязательная зона (RFC 3339); без зоны — UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: метка времени %q", ErrMalformed, s)
	}
	return t, nil
}

// FormatTime форматирует метку времени в UTC с точностью до секунды.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Parse разбирает полный манифест.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	if err := xml.NewDecoder(r).Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i, f := range m.Files {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("%w: файл #%d без имени", ErrMalformed, i+1)
		}
		if f.Checksum == "" && f.Timestamp == "" {
			return nil, fmt.Errorf("%w: у файла %q нет ни контрольной суммы, ни метки времени", ErrMalformed, f.Name)
		}
	}
	return m, nil
}

// ParseTicket читает из потока только тикет: разбор останавливается
// на первом элементе Ticket, список файлов не читается.
func ParseTicket(r io.Reader) (*Ticket, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: элемент Ticket не найден", ErrMalformed)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Ticket" {
			continue
		}
		t := &Ticket{}
		if err := dec.DecodeElement(t, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return t, nil
	}
}

// RootName возвращает имя корневого элемента документа.
func RootName(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("%w: пустой документ", ErrMalformed)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// Load читает манифест сервера из каталога клиентских файлов.
func Load(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия манифеста сервера: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadTicket читает только тикет манифеста сервера.
func LoadTicket(dir string) (*Ticket, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия манифеста сервера: %w", err)
	}
	defer f.Close()
	return ParseTicket(f)
}

// Write записывает манифест с XML-заголовком.
func Write(w io.Writer, m *Manifest) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
