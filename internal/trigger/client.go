// Package trigger вызывает HTTP-эндпоинт сверки от имени планировщика.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// ErrUnauthorized возвращается, если сервис отклонил секрет планировщика.
var ErrUnauthorized = errors.New("reconcile trigger unauthorized")

// Client запускает прогон сверки по HTTP.
type Client struct {
	url        string
	secret     string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
}

// NewClient создаёт клиент. Повторы выполняются на сетевых ошибках и ответах 5xx.
func NewClient(url, secret string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = 2
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	return &Client{
		url:        url,
		secret:     secret,
		httpClient: rc,
		logger:     logger,
	}
}

// Trigger запускает прогон и возвращает его отчёт.
func (c *Client) Trigger(ctx context.Context) (*model.Report, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var report model.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	c.logger.Info("reconciliation completed",
		zap.String("request_id", requestID),
		zap.String("run_id", report.RunID),
		zap.Int("auto_approvals", report.AutoApprovals),
		zap.Int("balance_charges_attempted", report.BalanceChargesAttempted),
		zap.Int("errors", report.Errors),
	)

	return &report, nil
}
