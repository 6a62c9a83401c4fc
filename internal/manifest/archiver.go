package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Archiver упаковывает файлы каталога в zip-архив.
// Архив обязан сохранять время модификации каждого файла с точностью
// до секунды: метки в архиве — те же, что клиент сравнивает в манифесте.
type Archiver interface {
	Archive(ctx context.Context, dir string, names []string) ([]byte, error)
}

// CommandArchiver — внешний архиватор Info-ZIP.
// Имена файлов передаются на stdin (zip -@), команда запускается
// в каталоге клиентских файлов. Без -X zip пишет расширенные метки
// времени (UT) с точностью до секунды; DOS-время в заголовке
// округляется до двух секунд.
type CommandArchiver struct {
	// Command — путь или имя исполняемого файла zip
	Command string
	// Timeout — предельное время работы архиватора
	Timeout time.Duration
}

// NewCommandArchiver создаёт архиватор.
func NewCommandArchiver(command string, timeout time.Duration) *CommandArchiver {
	return &CommandArchiver{Command: command, Timeout: timeout}
}

// Archive запускает архиватор и возвращает содержимое архива.
func (a *CommandArchiver) Archive(ctx context.Context, dir string, names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, errors.New("пустой список файлов для архива")
	}
	for _, n := range names {
		if filepath.IsAbs(n) || strings.HasPrefix(filepath.Clean(n), "..") {
			return nil, fmt.Errorf("путь %q вне каталога клиентских файлов", n)
		}
	}

	tmpDir, err := os.MkdirTemp("", "cdr-refresh-")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного каталога: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	archivePath := filepath.Join(tmpDir, "updates.zip")

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.Command, "-q", archivePath, "-@")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(strings.Join(names, "\n") + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("архиватор не завершился за %s: %w", a.Timeout, ctx.Err())
		}
		return nil, fmt.Errorf("ошибка архиватора %s: %w: %s", a.Command, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения архива: %w", err)
	}
	return data, nil
}
