// Package handler содержит HTTP-обработчики сервиса сверки.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/middleware"
	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// Reconciler выполняет один прогон сверки.
type Reconciler interface {
	Run(ctx context.Context) *model.Report
}

// Handler реализует HTTP-обработчики запуска сверки.
type Handler struct {
	reconciler     Reconciler
	logger         *zap.Logger
	authMiddleware *middleware.BearerAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(rec Reconciler, logger *zap.Logger, auth *middleware.BearerAuth) *Handler {
	return &Handler{
		reconciler:     rec,
		logger:         logger,
		authMiddleware: auth,
	}
}

// Reconcile запускает прогон сверки и отдаёт отчёт в JSON.
// Обрыв соединения клиентом не прерывает прогон.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	report := h.reconciler.Run(ctx)

	h.logger.Info("reconciliation triggered",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("run_id", report.RunID),
		zap.Int("results", len(report.Results)),
		zap.Int("errors", report.Errors),
	)

	writeJSON(w, http.StatusOK, report)
}

// Health отвечает на проверку живости.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
