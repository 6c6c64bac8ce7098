package model

import "strings"

// ScrubPlaceholder подставляется вместо идентификатора пользователя при очистке отчета.
const ScrubPlaceholder = "nobody@no.name"

// Известные статусы заявок на доступ к зонам.
var KnownStatuses = map[string]bool{
	"approved": true,
	"denied":   true,
	"expired":  true,
	"pending":  true,
	"revoked":  true,
}

// Record — одна строка отчета о статусе доступа.
type Record struct {
	Email   string
	Zone    string
	Status  string
	Updated string
	Reason  string
	Expires string
}

// RecordFromRow сопоставляет поля строки колонкам заголовка по имени.
// Неизвестные колонки игнорируются, отсутствующие остаются пустыми.
func RecordFromRow(header, row []string) Record {
	var rec Record
	for i, name := range header {
		if i >= len(row) {
			break
		}
		switch normalizeColumn(name) {
		case "username", "email", "useremail":
			rec.Email = row[i]
		case "tld", "zone", "tldname":
			rec.Zone = row[i]
		case "status", "currentstatus":
			rec.Status = row[i]
		case "lastupdated", "updated":
			rec.Updated = row[i]
		case "reason":
			rec.Reason = row[i]
		case "expiredate", "expires", "sftpexpiredate":
			rec.Expires = row[i]
		}
	}
	return rec
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '_' || r == '-' {
			return -1
		}
		return r
	}, name)
}
