package manifest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleManifest = `<?xml version="1.0" encoding="UTF-8"?>
<Manifest>
  <Ticket>
    <Application>CdrClient</Application>
    <Host>CDR.NCI.NIH.GOV</Host>
    <Author>admin</Author>
    <Checksum>ABCDEF</Checksum>
    <Timestamp>2024-03-01T10:00:00</Timestamp>
  </Ticket>
  <FileList>
    <File><Name>a.txt</Name><Checksum>AA</Checksum><Timestamp>2024-03-01T09:00:00</Timestamp></File>
    <File><Name>Macros\b.txt</Name><Timestamp>2024-03-01T09:00:01</Timestamp></File>
  </FileList>
</Manifest>`

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() ошибка: %v", err)
	}
	if m.Ticket.Host != "CDR.NCI.NIH.GOV" || m.Ticket.Checksum != "ABCDEF" {
		t.Errorf("Ticket = %+v", m.Ticket)
	}
	if len(m.Files) != 2 {
		t.Fatalf("Files = %d, хотели 2", len(m.Files))
	}
	if m.Files[1].Checksum != "" || m.Files[1].Timestamp != "2024-03-01T09:00:01" {
		t.Errorf("Files[1] = %+v", m.Files[1])
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"не XML", "not xml at all"},
		{"незакрытый тег", "<Manifest><Ticket>"},
		{"файл без имени", `<Manifest><FileList><File><Checksum>AA</Checksum></File></FileList></Manifest>`},
		{"файл без суммы и метки", `<Manifest><FileList><File><Name>a</Name></File></FileList></Manifest>`},
		{"пустой ввод", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() = %v, хотели ErrMalformed", err)
			}
		})
	}
}

func TestParseTicket_StopsAfterTicket(t *testing.T) {
	// Список файлов повреждён: потоковый разбор тикета его не читает
	input := `<Manifest><Ticket><Host>h</Host><Timestamp>2024-03-01T10:00:00</Timestamp></Ticket><FileList><File>`
	ticket, err := ParseTicket(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseTicket() ошибка: %v", err)
	}
	if ticket.Host != "h" {
		t.Errorf("Host = %q", ticket.Host)
	}

	// Тикет как корневой элемент
	ticket, err = ParseTicket(strings.NewReader(`<Ticket><Host>x</Host></Ticket>`))
	if err != nil || ticket.Host != "x" {
		t.Errorf("ParseTicket(<Ticket>) = %+v, %v", ticket, err)
	}

	if _, err := ParseTicket(strings.NewReader(`<Manifest/>`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseTicket() без тикета = %v, хотели ErrMalformed", err)
	}
}

func TestRootName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`<?xml version="1.0"?><Ticket/>`, "Ticket"},
		{`<!-- c --><Manifest><Ticket/></Manifest>`, "Manifest"},
	}
	for _, tt := range tests {
		got, err := RootName(strings.NewReader(tt.input))
		if err != nil || got != tt.want {
			t.Errorf("RootName(%q) = %q, %v; хотели %q", tt.input, got, err, tt.want)
		}
	}
	if _, err := RootName(strings.NewReader("   ")); !errors.Is(err, ErrMalformed) {
		t.Errorf("RootName(пусто) = %v, хотели ErrMalformed", err)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() ошибка: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write() ошибка: %v", err)
	}
	again, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse() после Write ошибка: %v", err)
	}
	if !again.Ticket.Matches(m.Ticket) || len(again.Files) != len(m.Files) {
		t.Errorf("манифест изменился после записи: %+v", again)
	}
}

func TestKeyAndPath(t *testing.T) {
	if got := Key(`Macros\b.txt`); got != "MACROS/B.TXT" {
		t.Errorf("Key() = %q", got)
	}
	if got := Path(`Macros\b.txt`); got != filepath.Join("Macros", "b.txt") {
		t.Errorf("Path() = %q", got)
	}
}

func TestParseTime(t *testing.T) {
	a, err := ParseTime("2024-03-01T10:00:00")
	if err != nil {
		t.Fatalf("ParseTime() ошибка: %v", err)
	}
	b, err := ParseTime("2024-03-01T12:00:00+02:00")
	if err != nil {
		t.Fatalf("ParseTime() с зоной ошибка: %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("%v != %v", a, b)
	}
	if _, err := ParseTime("yesterday"); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseTime(yesterday) = %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() = %v, хотели os.ErrNotExist", err)
	}
	if _, err := LoadTicket(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadTicket() = %v, хотели os.ErrNotExist", err)
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha", time.Date(2024, 3, 1, 9, 0, 1, 0, time.UTC))
	writeFile(t, dir, filepath.Join("sub", "b.txt"), "beta", time.Date(2024, 3, 1, 9, 0, 3, 0, time.UTC))
	writeFile(t, dir, FileName, "<Manifest/>", time.Now())

	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	m, err := Build(dir, BuildOptions{Application: "CdrClient", Host: "cdr", Author: "ops", Now: now})
	if err != nil {
		t.Fatalf("Build() ошибка: %v", err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("Files = %+v, хотели 2 файла без манифеста", m.Files)
	}
	if m.Files[0].Name != "a.txt" || m.Files[1].Name != "sub/b.txt" {
		t.Errorf("порядок файлов: %+v", m.Files)
	}
	if m.Files[1].Timestamp != "2024-03-01T09:00:03" {
		t.Errorf("Timestamp = %q, нечётная секунда должна сохраниться", m.Files[1].Timestamp)
	}
	// MD5("alpha")
	if m.Files[0].Checksum != "2C1743A391305FBF367DF8E4F069F9F9" {
		t.Errorf("Checksum = %q", m.Files[0].Checksum)
	}
	if m.Ticket.Checksum == "" || m.Ticket.Timestamp != "2024-03-02T00:00:00" {
		t.Errorf("Ticket = %+v", m.Ticket)
	}

	// Тот же набор файлов — та же контрольная сумма тикета
	again, _ := Build(dir, BuildOptions{Host: "cdr", Now: now.Add(time.Hour)})
	if again.Ticket.Checksum != m.Ticket.Checksum {
		t.Error("контрольная сумма тикета зависит не только от файлов")
	}

	if err := WriteFile(dir, m); err != nil {
		t.Fatalf("WriteFile() ошибка: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if !loaded.Ticket.Matches(m.Ticket) {
		t.Errorf("записанный тикет не совпадает: %+v", loaded.Ticket)
	}
}

func writeFile(t *testing.T, dir, name, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}
