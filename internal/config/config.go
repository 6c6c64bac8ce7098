package config

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultAuthURL = "https://account-api.icann.org/api/authenticate"
	DefaultAPIURL  = "https://czds-api.icann.org"
)

type Logger struct {
	Level     slog.Level
	Plaintext bool
}

type API struct {
	AuthURL string
	BaseURL string
	Timeout time.Duration // таймаут ожидания заголовков ответа
}

type Download struct {
	Concurrency int  // количество одновременных загрузок
	Decompress  bool // распаковывать gzip после загрузки
	Keep        bool // сохранять исходный gzip после распаковки
}

type Report struct {
	Enabled bool
	Scrub   bool   // заменять идентификатор пользователя заглушкой
	Format  string // "csv" или "json"
}

type Config struct {
	Logger    Logger
	API       API
	Username  string // никогда не логируется
	Password  string // никогда не логируется
	OutputDir string
	Zones     bool
	Download  Download
	Report    Report
}

// Load заполняет конфигурацию из окружения. Флаги CLI применяются поверх.
func Load() (Config, error) {
	var ge getenv
	cfg := Config{
		Logger: Logger{
			Level:     ge.LogLevel("LOG_LEVEL", false, slog.LevelInfo),
			Plaintext: ge.Bool("LOG_PLAINTEXT", false, false),
		},
		API: API{
			AuthURL: ge.String("CZDS_AUTH_URL", false, DefaultAuthURL),
			BaseURL: ge.String("CZDS_API_URL", false, DefaultAPIURL),
			Timeout: ge.Duration("CZDS_TIMEOUT", false, 30*time.Second),
		},
		Username:  ge.String("CZDS_USER", false, ""),
		Password:  ge.String("CZDS_PASS", false, ""),
		OutputDir: ge.String("CZDS_OUTPUT", false, "."),
		Download: Download{
			Concurrency: ge.Int("CZDS_CONCURRENCY", false, 3),
		},
		Report: Report{
			Format: "csv",
		},
	}
	return cfg, ge.Err()
}

// Validate проверяет конфигурацию после применения флагов.
func (cfg Config) Validate() error {
	if cfg.Download.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", cfg.Download.Concurrency)
	}
	if f := cfg.Report.Format; f != "csv" && f != "json" {
		return fmt.Errorf("unknown report format %q, want csv or json", f)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	return nil
}
