package manager

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"czdsget/internal/auth"
	"czdsget/internal/loader"
	"czdsget/internal/model"
)

func newAuthServer(t *testing.T, logins *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"accessToken": fmt.Sprintf("token-%d", n),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, client *http.Client, authURL string) *auth.Authenticator {
	t.Helper()
	a := auth.New(client, authURL, "user@example.com", "secret")
	be.Err(t, a.Login(context.Background()), nil)
	return a
}

func zoneName(r *http.Request) string {
	return strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".zone")
}

// requestCounter считает запросы по каждому URL: захваченная одним воркером
// задача не должна загружаться повторно.
type requestCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (rc *requestCounter) inc(path string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.counts == nil {
		rc.counts = make(map[string]int)
	}
	rc.counts[path]++
}

func (rc *requestCounter) get(path string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.counts[path]
}

func TestRunAllTerminal(t *testing.T) {
	const n = 8

	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	var rc requestCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc.inc(r.URL.Path)
		name := zoneName(r)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
		fmt.Fprintf(w, "zone data for %s\n", name)
	}))
	defer srv.Close()

	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/czds/downloads/zone%d.zone", srv.URL, i)
	}

	for c := 1; c <= n; c++ {
		t.Run("concurrency_"+strconv.Itoa(c), func(t *testing.T) {
			dir := t.TempDir()
			a := login(t, srv.Client(), authSrv.URL)
			m := New(Config{Concurrency: c, OutputDir: dir}, loader.New(srv.Client()), a)

			sum := m.Run(context.Background(), urls)
			be.Equal(t, sum.Done, n)
			be.Equal(t, sum.Failed, 0)

			for i := range urls {
				_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("zone%d.txt", i)))
				be.Err(t, err, nil)
			}
		})
	}

	// каждая зона загружается по одному разу за прогон, двойных захватов нет
	for i := range urls {
		path := fmt.Sprintf("/czds/downloads/zone%d.zone", i)
		be.Equal(t, rc.get(path), n)
	}
}

func TestRunPartialFailure(t *testing.T) {
	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := zoneName(r)
		if name == "bad" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
		fmt.Fprintf(w, "zone data for %s\n", name)
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/czds/downloads/com.zone",
		srv.URL + "/czds/downloads/bad.zone",
		srv.URL + "/czds/downloads/net.zone",
	}

	dir := t.TempDir()
	a := login(t, srv.Client(), authSrv.URL)
	m := New(Config{Concurrency: 2, OutputDir: dir}, loader.New(srv.Client()), a)

	sum := m.Run(context.Background(), urls)
	be.Equal(t, sum.Done, 2)
	be.Equal(t, sum.Failed, 1)
	be.Equal(t, len(sum.Failures), 1)
	be.Equal(t, sum.Failures[0].URL, urls[1])
	be.True(t, strings.Contains(sum.Failures[0].Reason, "500"))

	// неудачная задача не оставила ни файла, ни .part
	entries, err := os.ReadDir(dir)
	be.Err(t, err, nil)
	be.Equal(t, len(entries), 2)
}

// Первый запрос с исходным токеном получает 401; после единственной повторной
// аутентификации все задачи завершаются успешно.
func TestRunTokenRefresh(t *testing.T) {
	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		name := zoneName(r)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
		fmt.Fprintf(w, "zone data for %s\n", name)
	}))
	defer srv.Close()

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/czds/downloads/zone%d.zone", srv.URL, i)
	}

	dir := t.TempDir()
	a := login(t, srv.Client(), authSrv.URL)
	m := New(Config{Concurrency: 3, OutputDir: dir}, loader.New(srv.Client()), a)

	sum := m.Run(context.Background(), urls)
	be.Equal(t, sum.Done, 5)
	be.Equal(t, sum.Failed, 0)

	// ровно одна повторная аутентификация на весь пул, не по одной на воркера
	be.Equal(t, logins.Load(), int64(2))
}

// Повторное истечение токена терминально для задачи, но не для остальных.
func TestRunTokenExpiredTwice(t *testing.T) {
	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := zoneName(r)
		if name == "always401" {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
		fmt.Fprintf(w, "zone data for %s\n", name)
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/czds/downloads/com.zone",
		srv.URL + "/czds/downloads/always401.zone",
	}

	dir := t.TempDir()
	a := login(t, srv.Client(), authSrv.URL)
	m := New(Config{Concurrency: 2, OutputDir: dir}, loader.New(srv.Client()), a)

	sum := m.Run(context.Background(), urls)
	be.Equal(t, sum.Done, 1)
	be.Equal(t, sum.Failed, 1)
	be.True(t, strings.Contains(sum.Failures[0].Reason, model.ErrTokenExpired.Error()))
}

func TestRunAllFailed(t *testing.T) {
	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/czds/downloads/com.zone",
		srv.URL + "/czds/downloads/net.zone",
	}

	a := login(t, srv.Client(), authSrv.URL)
	m := New(Config{Concurrency: 2, OutputDir: t.TempDir()}, loader.New(srv.Client()), a)

	// полная неудача — это завершенный прогон с итогом, а не паника
	sum := m.Run(context.Background(), urls)
	be.Equal(t, sum.Done, 0)
	be.Equal(t, sum.Failed, 2)
	be.Equal(t, len(sum.Failures), 2)
}

func TestRunCancellation(t *testing.T) {
	const n = 6
	const concurrency = 2

	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	var started atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started.Add(1)
		<-r.Context().Done() // висим, пока клиент не отменит запрос
	}))
	defer srv.Close()

	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/czds/downloads/zone%d.zone", srv.URL, i)
	}

	a := login(t, srv.Client(), authSrv.URL)
	m := New(Config{Concurrency: concurrency, OutputDir: t.TempDir()}, loader.New(srv.Client()), a)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Summary, 1)
	go func() {
		done <- m.Run(ctx, urls)
	}()

	// ждем, пока все воркеры возьмут по задаче
	deadline := time.After(5 * time.Second)
	for started.Load() < concurrency {
		select {
		case <-deadline:
			t.Fatal("workers never started")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	sum := <-done

	// из pending вышло не больше задач, чем успело стартовать
	be.Equal(t, started.Load(), int64(concurrency))
	be.Equal(t, sum.Done, 0)
	be.Equal(t, sum.Failed, n)

	var cancelled int
	for _, f := range sum.Failures {
		if f.Reason == model.ErrCancelled.Error() {
			cancelled++
		}
	}
	be.Equal(t, cancelled, n-concurrency)
}

func TestRunDecompress(t *testing.T) {
	var logins atomic.Int64
	authSrv := newAuthServer(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := zoneName(r)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt.gz"))

		if name == "corrupt" {
			w.Write([]byte("not a gzip at all"))
			return
		}
		gz := gzip.NewWriter(w)
		fmt.Fprintf(gz, "zone data for %s\n", name)
		gz.Close()
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/czds/downloads/com.zone",
		srv.URL + "/czds/downloads/corrupt.zone",
		srv.URL + "/czds/downloads/net.zone",
	}

	t.Run("cleanup", func(t *testing.T) {
		dir := t.TempDir()
		a := login(t, srv.Client(), authSrv.URL)
		m := New(Config{Concurrency: 2, OutputDir: dir, Decompress: true}, loader.New(srv.Client()), a)

		sum := m.Run(context.Background(), urls)
		be.Equal(t, sum.Done, 2)
		be.Equal(t, sum.Failed, 1)

		for _, name := range []string{"com", "net"} {
			got, err := os.ReadFile(filepath.Join(dir, name+".txt"))
			be.Err(t, err, nil)
			be.Equal(t, string(got), "zone data for "+name+"\n")

			_, err = os.Stat(filepath.Join(dir, name+".txt.gz"))
			be.True(t, os.IsNotExist(err))
		}
	})

	t.Run("keep", func(t *testing.T) {
		dir := t.TempDir()
		a := login(t, srv.Client(), authSrv.URL)
		m := New(Config{Concurrency: 2, OutputDir: dir, Decompress: true, Keep: true}, loader.New(srv.Client()), a)

		sum := m.Run(context.Background(), []string{urls[0]})
		be.Equal(t, sum.Done, 1)

		_, err := os.Stat(filepath.Join(dir, "com.txt"))
		be.Err(t, err, nil)
		_, err = os.Stat(filepath.Join(dir, "com.txt.gz"))
		be.Err(t, err, nil)
	})
}
