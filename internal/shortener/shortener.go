// Пакет shortener - сокращение ссылок на изображения.
// Bitly API v4 или noop-реализация, если токен не задан.
package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Shortener - сервис коротких ссылок.
type Shortener interface {
	// Shorten возвращает короткую ссылку для longURL.
	Shorten(ctx context.Context, longURL string) (string, error)
}

// Noop возвращает исходную ссылку без изменений.
type Noop struct{}

// Shorten возвращает longURL.
func (Noop) Shorten(_ context.Context, longURL string) (string, error) {
	return longURL, nil
}

// ErrEmptyLink - сервис вернул ответ без ссылки.
var ErrEmptyLink = errors.New("пустая короткая ссылка в ответе")

// maxErrorBody - сколько байт тела ошибки попадает в сообщение.
const maxErrorBody = 512

// BitlyClient - клиент Bitly API v4.
type BitlyClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewBitly создаёт клиент Bitly.
// baseURL - https://api-ssl.bitly.com (SD_BITLY_URL),
// timeout - таймаут одного запроса (SD_SHORTEN_TIMEOUT).
func NewBitly(baseURL, token string, timeout time.Duration, logger *slog.Logger) *BitlyClient {
	return &BitlyClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger.With(slog.String("component", "bitly_client")),
	}
}

type shortenRequest struct {
	LongURL string `json:"long_url"`
}

type shortenResponse struct {
	Link string `json:"link"`
}

// Shorten выполняет POST {baseURL}/v4/shorten.
// Bitly отвечает 200 для уже сокращённой ссылки и 201 для новой.
func (c *BitlyClient) Shorten(ctx context.Context, longURL string) (string, error) {
	body, err := json.Marshal(shortenRequest{LongURL: longURL})
	if err != nil {
		return "", fmt.Errorf("сериализация запроса Shorten: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v4/shorten", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("создание запроса Shorten: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос Shorten: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("ответ Shorten: статус %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out shortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("декодирование ответа Shorten: %w", err)
	}
	if out.Link == "" {
		return "", ErrEmptyLink
	}

	c.logger.Debug("Ссылка сокращена",
		slog.String("long_url", longURL),
		slog.String("link", out.Link),
	)
	return out.Link, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var (
	_ Shortener = Noop{}
	_ Shortener = (*BitlyClient)(nil)
)
