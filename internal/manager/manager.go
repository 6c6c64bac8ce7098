package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"czdsget/internal/auth"
	"czdsget/internal/loader"
	"czdsget/internal/logger"
	"czdsget/internal/model"
)

type Config struct {
	Concurrency int
	OutputDir   string
	Decompress  bool
	Keep        bool
}

type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Summary — итог прогона: счетчики и список неудач с причинами.
// Частичная (и даже полная) неудача — это завершенный прогон, не ошибка.
type Summary struct {
	Done     int       `json:"done"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Manager гоняет загрузки зон через пул воркеров фиксированного размера.
// Единственное разделяемое состояние — очередь задач под мьютексом
// (переход pending -> in-flight) и токен внутри Authenticator.
type Manager struct {
	cfg    Config
	loader *loader.Loader
	auth   *auth.Authenticator

	mu    sync.Mutex
	tasks []*model.Task
}

func New(cfg Config, ldr *loader.Loader, a *auth.Authenticator) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Manager{
		cfg:    cfg,
		loader: ldr,
		auth:   a,
	}
}

// Run загружает все url и возвращает итог после завершения всех задач.
// Неудача одной задачи не прерывает остальные. Отмена ctx останавливает
// захват новых задач; оставшиеся pending помечаются failed с причиной отмены.
func (m *Manager) Run(ctx context.Context, urls []string) Summary {
	m.mu.Lock()
	m.tasks = make([]*model.Task, len(urls))
	for i, u := range urls {
		m.tasks[i] = &model.Task{URL: u}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for range m.cfg.Concurrency {
		g.Go(func() error {
			m.worker(ctx)
			return nil
		})
	}
	g.Wait()

	return m.summarize()
}

func (m *Manager) worker(ctx context.Context) {
	for {
		task := m.claim(ctx)
		if task == nil {
			return
		}
		m.attempt(ctx, task)
	}
}

// claim атомарно захватывает следующую pending-задачу. После отмены ctx
// новые задачи не захватываются.
func (m *Manager) claim(ctx context.Context) *model.Task {
	if ctx.Err() != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, task := range m.tasks {
		if task.Status == model.StatusPending {
			task.Status = model.StatusInFlight
			return task
		}
	}
	return nil
}

// attempt выполняет одну попытку загрузки. На истекший токен задача один раз
// возвращается в pending после обновления токена; второе истечение
// терминально. Другие ошибки не повторяются.
func (m *Manager) attempt(ctx context.Context, task *model.Task) {
	log := slog.With("url", task.URL)
	ctx = logger.Context(ctx, log)

	token := m.auth.Token()
	path, err := m.loader.FetchZone(ctx, token, task.URL, m.cfg.OutputDir)

	switch {
	case err == nil:
		if m.cfg.Decompress {
			path, err = loader.Decompress(path, m.cfg.Keep)
			if err != nil {
				m.fail(task, err.Error())
				log.Warn("decompress failed", "error", err)
				return
			}
		}
		m.done(task, path)
		log.Info("zone downloaded", "path", path)

	case errors.Is(err, model.ErrTokenExpired) && task.Attempts == 0:
		if _, rerr := m.auth.Refresh(ctx, token); rerr != nil {
			m.fail(task, rerr.Error())
			log.Error("re-authentication failed", "error", rerr)
			return
		}
		m.requeue(task)
		log.Debug("token refreshed, task requeued")

	default:
		m.fail(task, err.Error())
		log.Warn("download failed", "error", err)
	}
}

func (m *Manager) done(task *model.Task, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = model.StatusDone
	task.Path = path
}

func (m *Manager) fail(task *model.Task, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = model.StatusFailed
	task.Reason = reason
}

func (m *Manager) requeue(task *model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = model.StatusPending
	task.Attempts++
}

// summarize помечает не начатые задачи как отмененные и собирает итог.
// Неудачи перечисляются в порядке постановки задач.
func (m *Manager) summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	for _, task := range m.tasks {
		if task.Status == model.StatusPending {
			task.Status = model.StatusFailed
			task.Reason = model.ErrCancelled.Error()
		}

		switch task.Status {
		case model.StatusDone:
			s.Done++
		case model.StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, Failure{URL: task.URL, Reason: task.Reason})
		}
	}
	return s
}
