// Package adapter содержит клиенты внешних сервисов World: проверку доказательств
// World ID и статус транзакций MiniKit. Любой сбой транспорта или ответа
// нормализуется в *apperr.Error и никогда не трактуется как успех.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/metrics"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://developer.worldcoin.org"
	DefaultTimeout = 8 * time.Second

	// maxResponseBytes ограничивает чтение тела ответа
	maxResponseBytes = 1 << 20
)

// Config настройки клиента World
type Config struct {
	// BaseURL адрес Developer Portal API (по умолчанию DefaultBaseURL)
	BaseURL string

	// AppID идентификатор мини-приложения
	AppID string

	// APIKey ключ Developer Portal, нужен для запросов статуса транзакций
	APIKey string

	// Timeout общий лимит на один вызов (по умолчанию DefaultTimeout)
	Timeout time.Duration

	// HTTPClient необязательный клиент
	HTTPClient *http.Client
}

type worldClient struct {
	baseURL    string
	appID      string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func newWorldClient(cfg Config, m *metrics.Metrics, logger *zap.Logger) worldClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return worldClient{
		baseURL:    baseURL,
		appID:      cfg.AppID,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// do выполняет запрос с ограничением по времени и читает тело ответа
func (c *worldClient) do(ctx context.Context, authority string, req *http.Request) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		c.metrics.ObserveAuthority(authority, "transport_error", time.Since(start))
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.ObserveAuthority(authority, statusClass(resp.StatusCode), time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// transportReason различает таймаут и прочие сетевые сбои
func transportReason(err error) apperr.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.ReasonTimeout
	}
	return apperr.ReasonUnreachable
}

// statusReason 4xx означает отказ, 5xx недоступность
func statusReason(code int) apperr.Reason {
	if code >= 400 && code < 500 {
		return apperr.ReasonRejected
	}
	return apperr.ReasonUnreachable
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// truncate обрезает тело ответа для сообщений об ошибках
func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
