package manifest

import (
	"crypto/md5" //nolint:gosec // контрольная сумма содержимого, не криптография
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BuildOptions — поля тикета собираемого манифеста.
type BuildOptions struct {
	Application string
	Host        string
	Author      string
	Now         time.Time
}

// Build строит манифест сервера по содержимому каталога: MD5 и время
// модификации каждого файла, кроме самого манифеста. Контрольная сумма
// тикета вычисляется по списку файлов, поэтому любое изменение набора
// файлов меняет тикет.
func Build(dir string, opts BuildOptions) (*Manifest, error) {
	m := &Manifest{Ticket: Ticket{
		Application: opts.Application,
		Host:        opts.Host,
		Author:      opts.Author,
		Timestamp:   FormatTime(opts.Now),
	}}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if Key(name) == Key(FileName) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := fileMD5(path)
		if err != nil {
			return err
		}
		m.Files = append(m.Files, File{Name: name, Checksum: sum, Timestamp: FormatTime(info.ModTime())})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода каталога %s: %w", dir, err)
	}

	sort.Slice(m.Files, func(i, j int) bool { return Key(m.Files[i].Name) < Key(m.Files[j].Name) })

	h := md5.New() //nolint:gosec
	for _, f := range m.Files {
		fmt.Fprintf(h, "%s:%s\n", Key(f.Name), strings.ToUpper(f.Checksum))
	}
	m.Ticket.Checksum = strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
	return m, nil
}

// WriteFile записывает манифест в dir/CdrManifest.xml через временный файл.
func WriteFile(dir string, m *Manifest) error {
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, FileName))
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
