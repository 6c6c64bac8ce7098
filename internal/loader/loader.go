package loader

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"czdsget/internal/logger"
	"czdsget/internal/model"
)

const (
	gzSuffix   = ".gz"
	partSuffix = ".part"
)

type Loader struct {
	client *http.Client
}

func New(client *http.Client) *Loader {
	return &Loader{client: client}
}

// FetchZone загружает один файл зоны в каталог dir, стримя тело ответа во
// временный файл <имя>.part с переименованием после успеха. При любой ошибке
// частичный файл удаляется: после неудачи по пути назначения ничего не
// остается. 401/403 возвращается как model.ErrTokenExpired, решение о
// повторе принимает оркестратор.
func (ldr *Loader) FetchZone(ctx context.Context, token, url, dir string) (string, error) {
	log := logger.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ldr.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", model.ErrTokenExpired
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	name := zoneFileName(resp, url)
	path := filepath.Join(dir, name)
	tmp := path + partSuffix

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if err == nil {
		err = checkLength(resp, n)
	}
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("read body: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename file: %w", err)
	}

	log.Debug("zone downloaded", "name", name, "size", n)
	return path, nil
}

// checkLength отлавливает оборванное тело ответа: записанный объем должен
// совпадать с Content-Length, если сервер его прислал.
func checkLength(resp *http.Response, written int64) error {
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return fmt.Errorf("truncated body: got %d of %d bytes", written, resp.ContentLength)
	}
	return nil
}

// Decompress распаковывает gzip-файл в соседний файл без суффикса .gz,
// тем же приемом tmp+rename. Исходный файл удаляется, если не задан keep.
// Файлы без суффикса .gz возвращаются как есть.
func Decompress(path string, keep bool) (string, error) {
	if !strings.HasSuffix(path, gzSuffix) {
		return path, nil
	}
	outPath := strings.TrimSuffix(path, gzSuffix)

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}

	tmp := outPath + partSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("decompress: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename file: %w", err)
	}

	if !keep {
		os.Remove(path)
	}
	return outPath, nil
}
