package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"czdsget/internal/auth"
	"czdsget/internal/model"
)

const reportPath = "/czds/requests/report"

type Options struct {
	Dest   string
	Format string // "csv" или "json"
	Scrub  bool
}

// Fetch загружает отчет о статусе доступа к зонам и атомарно записывает его
// в Dest: либо файл записан целиком, либо не появляется вовсе.
func Fetch(ctx context.Context, a *auth.Authenticator, baseURL, username string, opts Options) error {
	resp, err := a.Get(ctx, baseURL+reportPath)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch report: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fetch report: read body: %w", err)
	}

	out, err := Render(raw, username, opts)
	if err != nil {
		return err
	}

	return writeAtomic(opts.Dest, out)
}

// Render применяет к сырому CSV-отчету очистку и конвертацию формата.
// Опции независимы и комбинируются в любом сочетании.
func Render(raw []byte, username string, opts Options) ([]byte, error) {
	header, rows, err := parseCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}

	if opts.Scrub {
		scrubRows(rows, username)
	}

	checkStatuses(header, rows)

	if strings.EqualFold(opts.Format, "json") {
		return encodeJSON(header, rows)
	}
	return encodeCSV(header, rows)
}

func parseCSV(raw []byte) (header []string, rows [][]string, err error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1 // встречаются строки с неполным набором полей

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty report")
	}
	return records[0], records[1:], nil
}

// scrubRows заменяет поля, равные идентификатору пользователя, на заглушку.
// Остальные поля не меняются.
func scrubRows(rows [][]string, username string) {
	if username == "" {
		return
	}
	for _, row := range rows {
		for i := range row {
			if row[i] == username {
				row[i] = model.ScrubPlaceholder
			}
		}
	}
}

// checkStatuses предупреждает о статусах вне известного набора. Строка при
// этом сохраняется в выводе: отчет экспортируется как есть.
func checkStatuses(header []string, rows [][]string) {
	for _, row := range rows {
		rec := model.RecordFromRow(header, row)
		if rec.Status == "" {
			continue
		}
		if !model.KnownStatuses[strings.ToLower(rec.Status)] {
			slog.Warn("unknown status in report", "zone", rec.Zone, "status", rec.Status)
		}
	}
}

func encodeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeJSON кодирует строки как массив объектов, сохраняя порядок строк и
// порядок колонок заголовка.
func encodeJSON(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, row := range rows {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    {")
		for j, name := range header {
			if j > 0 {
				buf.WriteString(", ")
			}
			key, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			value := []byte(`""`)
			if j < len(row) {
				if value, err = json.Marshal(row[j]); err != nil {
					return nil, err
				}
			}
			buf.Write(key)
			buf.WriteString(": ")
			buf.Write(value)
		}
		buf.WriteString("}")
	}
	buf.WriteString("\n]\n")
	return buf.Bytes(), nil
}

func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".report-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
