package manifest

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

// Delta — файлы, которые клиент должен установить и удалить,
// чтобы совпасть с сервером.
type Delta struct {
	// Install — имена из манифеста сервера, в его порядке
	Install []string
	// Delete — имена из манифеста клиента, в его порядке
	Delete []string
}

// Empty — клиент актуален.
func (d Delta) Empty() bool {
	return len(d.Install) == 0 && len(d.Delete) == 0
}

// Diff вычисляет дельту между манифестами сервера и клиента.
// Если что-то устанавливается, в установку всегда входит сам манифест:
// после обновления следующая проверка тикета клиента должна пройти.
func Diff(server, client *Manifest) Delta {
	clientFiles := make(map[string]File, len(client.Files))
	for _, f := range client.Files {
		clientFiles[Key(f.Name)] = f
	}
	serverKeys := make(map[string]bool, len(server.Files))

	var d Delta
	hasManifest := false
	for _, f := range server.Files {
		key := Key(f.Name)
		serverKeys[key] = true
		if c, ok := clientFiles[key]; ok && f.Matches(c) {
			continue
		}
		d.Install = append(d.Install, f.Name)
		if key == Key(FileName) {
			hasManifest = true
		}
	}
	if len(d.Install) > 0 && !hasManifest {
		d.Install = append(d.Install, FileName)
	}

	for _, f := range client.Files {
		if !serverKeys[Key(f.Name)] {
			d.Delete = append(d.Delete, f.Name)
		}
	}
	return d
}

// Current — ответ на проверку тикета.
type Current struct {
	XMLName xml.Name `xml:"Current"`
	Value   string   `xml:",chardata"`
}

// NewCurrent строит ответ Y/N.
func NewCurrent(upToDate bool) Current {
	if upToDate {
		return Current{Value: "Y"}
	}
	return Current{Value: "N"}
}

// ZipFile — архив устанавливаемых файлов в base64.
type ZipFile struct {
	Encoding string `xml:"encoding,attr"`
	Data     string `xml:",chardata"`
}

// DeleteList — пути файлов, которые клиент должен удалить.
type DeleteList struct {
	Files []string `xml:"File"`
}

// Updates — ответ на запрос обновления. Пустой Updates — клиент актуален.
type Updates struct {
	XMLName xml.Name    `xml:"Updates"`
	ZipFile *ZipFile    `xml:"ZipFile,omitempty"`
	Delete  *DeleteList `xml:"Delete,omitempty"`
}

// BuildUpdates собирает ответ: архив устанавливаемых файлов из dir
// и список удаляемых путей.
func BuildUpdates(ctx context.Context, dir string, d Delta, archiver Archiver) (*Updates, error) {
	u := &Updates{}
	if len(d.Install) > 0 {
		names := make([]string, len(d.Install))
		for i, n := range d.Install {
			names[i] = Path(n)
		}
		data, err := archiver.Archive(ctx, dir, names)
		if err != nil {
			return nil, fmt.Errorf("ошибка сборки архива: %w", err)
		}
		u.ZipFile = &ZipFile{Encoding: "base64", Data: base64.StdEncoding.EncodeToString(data)}
	}
	if len(d.Delete) > 0 {
		u.Delete = &DeleteList{Files: append([]string(nil), d.Delete...)}
	}
	return u, nil
}
