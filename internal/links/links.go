package links

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"czdsget/internal/auth"
)

const downloadsPath = "/czds/downloads/links"

// Enumerate возвращает список URL файлов зон, доступных пользователю.
// Порядок ответа API сохраняется. Пустой список — не ошибка.
func Enumerate(ctx context.Context, a *auth.Authenticator, baseURL string) ([]string, error) {
	resp, err := a.Get(ctx, baseURL+downloadsPath)
	if err != nil {
		return nil, fmt.Errorf("fetch zone links: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch zone links: unexpected status %d", resp.StatusCode)
	}

	var urls []string
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, fmt.Errorf("fetch zone links: decode response: %w", err)
	}

	return urls, nil
}
