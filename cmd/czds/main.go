package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"czdsget/internal/auth"
	"czdsget/internal/config"
	"czdsget/internal/links"
	"czdsget/internal/loader"
	"czdsget/internal/logger"
	"czdsget/internal/manager"
	"czdsget/internal/report"
)

var (
	username    = flag.String("u", "", "ICANN username (fallback: env CZDS_USER, then prompt)")
	password    = flag.String("p", "", "ICANN password (fallback: env CZDS_PASS, then prompt)")
	outputDir   = flag.String("o", "", "Output directory (default: current directory)")
	concurrency = flag.Int("c", 0, "Number of concurrent downloads (default: 3)")
	zones       = flag.Bool("z", false, "Download zone files")
	decompress  = flag.Bool("d", false, "Decompress zone files after download")
	keep        = flag.Bool("k", false, "Keep the original gzip files after decompression")
	reportFlag  = flag.Bool("r", false, "Download the zone stats report")
	scrub       = flag.Bool("s", false, "Scrub the username from the report")
	format      = flag.String("f", "", "Report output format: csv or json")
	verbose     = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	godotenv.Load()
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	applyFlags(&cfg)

	logger.SetupDefault(cfg.Logger)

	if !cfg.Zones && !cfg.Report.Enabled {
		fmt.Fprintln(os.Stderr, "nothing to do: use -z to download zones and/or -r to download the report")
		flag.PrintDefaults()
		os.Exit(1)
	}

	promptCredentials(&cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newHTTPClient(cfg.API.Timeout)
	a := auth.New(client, cfg.API.AuthURL, cfg.Username, cfg.Password)

	if err := a.Login(ctx); err != nil {
		slog.Error("authentication failed", "error", err)
		os.Exit(1)
	}

	dir := filepath.Join(cfg.OutputDir, "zones", time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("create output directory failed", "error", err)
		os.Exit(1)
	}

	exitCode := 0

	if cfg.Report.Enabled {
		dest := filepath.Join(dir, ".report."+cfg.Report.Format)
		opts := report.Options{Dest: dest, Format: cfg.Report.Format, Scrub: cfg.Report.Scrub}
		if err := report.Fetch(ctx, a, cfg.API.BaseURL, cfg.Username, opts); err != nil {
			slog.Error("report download failed", "error", err)
			exitCode = 1
		} else {
			slog.Info("report saved", "path", dest)
		}
	}

	if cfg.Zones {
		urls, err := links.Enumerate(ctx, a, cfg.API.BaseURL)
		if err != nil {
			slog.Error("fetch zone links failed", "error", err)
			os.Exit(1)
		}
		slog.Info("zone links fetched", "count", len(urls))

		mgr := manager.New(manager.Config{
			Concurrency: cfg.Download.Concurrency,
			OutputDir:   dir,
			Decompress:  cfg.Download.Decompress,
			Keep:        cfg.Download.Keep,
		}, loader.New(client), a)

		sum := mgr.Run(ctx, urls)
		for _, f := range sum.Failures {
			slog.Warn("zone failed", "url", f.URL, "reason", f.Reason)
		}
		slog.Info("download finished", "done", sum.Done, "failed", sum.Failed)
	}

	os.Exit(exitCode)
}

// applyFlags накладывает флаги CLI поверх значений из окружения:
// приоритет flag > env > интерактивный запрос.
func applyFlags(cfg *config.Config) {
	if *username != "" {
		cfg.Username = *username
	}
	if *password != "" {
		cfg.Password = *password
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *concurrency > 0 {
		cfg.Download.Concurrency = *concurrency
	}
	if *format != "" {
		cfg.Report.Format = strings.ToLower(*format)
	}
	if *verbose {
		cfg.Logger.Level = slog.LevelDebug
	}
	cfg.Zones = cfg.Zones || *zones
	cfg.Download.Decompress = cfg.Download.Decompress || *decompress
	cfg.Download.Keep = cfg.Download.Keep || *keep
	cfg.Report.Enabled = cfg.Report.Enabled || *reportFlag
	cfg.Report.Scrub = cfg.Report.Scrub || *scrub
}

func promptCredentials(cfg *config.Config) {
	in := bufio.NewReader(os.Stdin)

	if cfg.Username == "" {
		fmt.Fprint(os.Stderr, "ICANN username: ")
		line, err := in.ReadString('\n')
		if err != nil {
			log.Fatalf("read username failed: %v", err)
		}
		cfg.Username = strings.TrimSpace(line)
	}

	if cfg.Password == "" {
		fmt.Fprint(os.Stderr, "ICANN password: ")
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				log.Fatalf("read password failed: %v", err)
			}
			cfg.Password = string(b)
		} else {
			line, err := in.ReadString('\n')
			if err != nil {
				log.Fatalf("read password failed: %v", err)
			}
			cfg.Password = strings.TrimSpace(line)
		}
	}
}

// newHTTPClient создаёт клиент с разумными таймаутами для загрузки больших
// файлов: общий таймаут не ставим, ограничиваем соединение и ожидание
// заголовков.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
