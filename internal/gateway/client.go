// Package gateway предоставляет клиент платёжного шлюза: проверку баланса платформы, переводы владельцам,
// списания с рекламодателей и возвраты.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrInvalidAmount возвращается для нулевых и отрицательных сумм.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrNotConfigured возвращается, если адрес или ключ шлюза не заданы.
var ErrNotConfigured = errors.New("gateway client not configured")

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL   string
	SecretKey string
	Currency  string
	Timeout   time.Duration
	RetryMax  int
	RetryWait time.Duration
	Logger    *zap.Logger
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	secretKey  string
	currency   string
	httpClient *retryablehttp.Client
}

// BalanceCheck описывает результат проверки доступных средств платформы.
type BalanceCheck struct {
	HasBalance     bool
	AvailableCents int64
}

// TransferRequest описывает перевод на счёт владельца площади.
type TransferRequest struct {
	AmountCents    int64
	Destination    string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// ChargeRequest описывает списание с сохранённого способа оплаты рекламодателя.
type ChargeRequest struct {
	AmountCents      int64
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Metadata         map[string]string
}

type balanceResponse struct {
	Available []struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"available"`
}

type objectResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NewClient создаёт клиент шлюза с повторами на сетевых ошибках, 429 и 5xx.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWait > 0 {
		rc.RetryWaitMin = cfg.RetryWait
		rc.RetryWaitMax = 4 * cfg.RetryWait
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Logger != nil {
		rc.Logger = leveledLogger{cfg.Logger.Sugar()}
	} else {
		rc.Logger = nil
	}

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		currency:   currency,
		httpClient: rc,
	}
}

// CheckAvailableBalance проверяет, покрывают ли доступные средства платформы указанную сумму.
func (c *Client) CheckAvailableBalance(ctx context.Context, amountCents int64) (BalanceCheck, error) {
	if amountCents < 0 {
		return BalanceCheck{}, ErrInvalidAmount
	}

	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/balance", nil, "", &resp); err != nil {
		return BalanceCheck{}, fmt.Errorf("get balance: %w", err)
	}

	var available int64
	for _, b := range resp.Available {
		if strings.EqualFold(b.Currency, c.currency) {
			available += b.Amount
		}
	}

	return BalanceCheck{
		HasBalance:     available >= amountCents,
		AvailableCents: available,
	}, nil
}

// CreateTransfer переводит средства на подключённый счёт и возвращает идентификатор перевода.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", ErrInvalidAmount
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", c.currency)
	form.Set("destination", req.Destination)
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	setMetadata(form, req.Metadata)

	var resp objectResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", form, req.IdempotencyKey, &resp); err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}
	return resp.ID, nil
}

// CreateCharge списывает средства без участия покупателя и возвращает идентификатор платежа.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", ErrInvalidAmount
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", c.currency)
	form.Set("customer", req.CustomerRef)
	form.Set("payment_method", req.PaymentMethodRef)
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	setMetadata(form, req.Metadata)

	var resp objectResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &resp); err != nil {
		return "", fmt.Errorf("create charge: %w", err)
	}

	if resp.Status != "" && resp.Status != "succeeded" {
		return resp.ID, &Error{
			StatusCode: http.StatusPaymentRequired,
			Type:       "charge_incomplete",
			Message:    "payment intent status " + resp.Status,
		}
	}
	return resp.ID, nil
}

// Refund возвращает средства по списанию. Повторный возврат той же ссылки не выполняется дважды.
func (c *Client) Refund(ctx context.Context, chargeRef, reason string) (string, error) {
	if chargeRef == "" {
		return "", errors.New("empty charge reference")
	}

	form := url.Values{}
	if strings.HasPrefix(chargeRef, "ch_") {
		form.Set("charge", chargeRef)
	} else {
		form.Set("payment_intent", chargeRef)
	}
	form.Set("reason", "requested_by_customer")
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	var resp objectResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, "refund_"+chargeRef, &resp); err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if c == nil || c.baseURL == "" || c.secretKey == "" {
		return ErrNotConfigured
	}

	var body []byte
	if form != nil {
		body = []byte(form.Encode())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setMetadata(form url.Values, metadata map[string]string) {
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
