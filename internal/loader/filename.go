package loader

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode"
)

const (
	defaultFileName = "zone"
	maxNameLen      = 200
)

// zoneFileName выбирает имя для файла зоны: filename из Content-Disposition,
// иначе последний сегмент пути URL. Суффикс сжатия при этом сохраняется.
func zoneFileName(resp *http.Response, rawURL string) string {
	if name := dispositionFileName(resp); name != "" {
		return safeName(name)
	}

	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return safeName(base)
		}
	}

	return defaultFileName
}

func dispositionFileName(resp *http.Response) string {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// safeName строит безопасное имя файла:
//
//   - обрезает путь;
//   - удаляет управляющие и неграфические символы;
//   - заменяет опасные символы на '-', схлопывая повторы;
//   - удаляет лидирующие точки и дефисы (имя не может ссылаться наверх).
//
// В отличие от общего санитайзера точки внутри имени сохраняются:
// имена зон вида "com.txt.gz" должны остаться как есть.
func safeName(name string) string {
	if p := strings.LastIndexAny(name, `/\`); p != -1 {
		name = name[p+1:]
	}

	var sb strings.Builder
	sb.Grow(maxNameLen)

	prev := '-'
	n := 0
loop:
	for _, r := range name {
		if n >= maxNameLen {
			break
		}

		switch {
		case unicode.IsSpace(r):
			r = '-'
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			continue loop
		case strings.ContainsRune(`<>:"/\|?*`, r):
			r = '-'
		}

		if r == '-' && prev == '-' {
			continue
		}

		sb.WriteRune(r)
		prev = r
		n++
	}

	result := strings.TrimLeft(sb.String(), ".-")
	result = strings.TrimRight(result, "-")

	if result == "" {
		return defaultFileName
	}
	return result
}
