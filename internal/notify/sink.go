// Package notify записывает запросы на уведомления пользователей.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// Store описывает хранилище уведомлений.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) (int64, error)
}

// Sink ставит уведомления в очередь. Ошибки хранилища только логируются.
type Sink struct {
	store  Store
	logger *zap.Logger
}

// NewSink создаёт Sink поверх хранилища.
func NewSink(store Store, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, logger: logger}
}

// Notify записывает уведомление для пользователя.
func (s *Sink) Notify(ctx context.Context, userID string, typ model.NotificationType, title, content, bookingID string) {
	if userID == "" {
		s.logger.Warn("notification without recipient dropped",
			zap.String("type", string(typ)),
			zap.String("booking_id", bookingID),
		)
		return
	}

	id, err := s.store.InsertNotification(ctx, model.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Content:   content,
		BookingID: bookingID,
	})
	if err != nil {
		s.logger.Error("failed to record notification",
			zap.String("user_id", userID),
			zap.String("type", string(typ)),
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("notification recorded",
		zap.Int64("notification_id", id),
		zap.String("type", string(typ)),
		zap.String("booking_id", bookingID),
	)
}
