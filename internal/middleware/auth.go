// Package middleware содержит HTTP middleware сервиса сверки.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const bearerPrefix = "bearer "

// BearerAuth проверяет заголовок Authorization по общему секрету планировщика.
type BearerAuth struct {
	secret []byte
	logger *zap.Logger
}

// NewBearerAuth создаёт проверку с указанным секретом. Пустой секрет отклоняет все запросы.
func NewBearerAuth(secret string, logger *zap.Logger) *BearerAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BearerAuth{
		secret: []byte(secret),
		logger: logger,
	}
}

// Middleware пропускает запрос дальше только с верным токеном, иначе отвечает 401.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason, ok := a.check(r.Header.Get("Authorization")); !ok {
			a.logger.Warn("unauthorized trigger request",
				zap.String("reason", reason),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="reconcile"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *BearerAuth) check(header string) (string, bool) {
	if len(a.secret) == 0 {
		return "secret_not_configured", false
	}
	if header == "" {
		return "missing_auth", false
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "invalid_auth_format", false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if subtle.ConstantTimeCompare([]byte(token), a.secret) != 1 {
		return "invalid_token", false
	}
	return "", true
}
