package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"czdsget/internal/model"
)

// Authenticator владеет учетными данными и текущим bearer-токеном.
// Токен защищен мьютексом; остальные компоненты получают копию через Token().
type Authenticator struct {
	client  *http.Client
	authURL string

	username string
	password string

	mu    sync.Mutex
	token string
}

func New(client *http.Client, authURL, username, password string) *Authenticator {
	return &Authenticator{
		client:   client,
		authURL:  authURL,
		username: username,
		password: password,
	}
}

// Login обменивает учетные данные на токен. Ошибка фатальна для запуска:
// невалидные учетные данные валидными не станут.
func (a *Authenticator) Login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.login(ctx)
}

// Token возвращает копию текущего токена.
func (a *Authenticator) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Refresh повторно аутентифицируется после истечения токена. Вызовы
// сериализуются мьютексом: пока идет обновление, остальные ждут. Если токен
// уже отличается от stale, кто-то успел обновить его раньше — возвращаем
// текущий без сетевого вызова. Так на одно окно истечения приходится не
// больше одной повторной аутентификации.
func (a *Authenticator) Refresh(ctx context.Context, stale string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.token != stale {
		return a.token, nil
	}

	slog.Info("access token expired, re-authenticating")
	if err := a.login(ctx); err != nil {
		return "", err
	}
	return a.token, nil
}

func (a *Authenticator) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.authURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", model.ErrAuth, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: decode response: %v", model.ErrAuth, err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("%w: no accessToken in response", model.ErrAuth)
	}

	a.token = result.AccessToken
	slog.Debug("authenticated")
	return nil
}

// Get выполняет GET с bearer-токеном. На 401/403 один раз обновляет токен и
// повторяет запрос; повторный отказ возвращается вызывающему как ошибка.
func (a *Authenticator) Get(ctx context.Context, url string) (*http.Response, error) {
	token := a.Token()
	resp, err := a.get(ctx, url, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		token, err = a.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		return a.get(ctx, url, token)
	}

	return resp, nil
}

func (a *Authenticator) get(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return a.client.Do(req)
}
