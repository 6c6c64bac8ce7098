package model

type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusInFlight
	StatusDone
	StatusFailed
)

func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in-flight"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Task представляет загрузку одного файла зоны.
//
// Переход pending -> in-flight выполняется строго под мьютексом менеджера,
// остальные поля задачи трогает только воркер, который её захватил.
type Task struct {
	URL      string     `json:"url"`
	Path     string     `json:"path,omitempty"`
	Attempts int        `json:"attempts,omitempty"` // количество повторов после истечения токена
	Status   TaskStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
}
