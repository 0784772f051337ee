package jobs

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/services"
)

// LogNotificationPublisher writes notifications to the log instead of Pub/Sub. It backs local development
// where no topic is configured. OTP codes are only written at debug level.
type LogNotificationPublisher struct {
	logger *zap.Logger
}

var _ services.NotificationPublisher = (*LogNotificationPublisher)(nil)

func NewLogNotificationPublisher(logger *zap.Logger) *LogNotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationPublisher{logger: logger}
}

func (p *LogNotificationPublisher) PublishNotification(_ context.Context, message services.NotificationMessage) (string, error) {
	id := ulid.Make().String()
	p.logger.Info("notification queued",
		zap.String("messageId", id),
		zap.String("notificationId", message.ID),
		zap.String("kind", message.Kind),
		zap.String("channel", message.Channel),
		zap.String("destination", observability.MaskDestination(message.Destination)),
		zap.String("orderId", message.OrderID),
		zap.String("subject", message.Subject),
	)
	p.logger.Debug("notification body", zap.String("notificationId", message.ID), zap.String("body", message.Body))
	return id, nil
}
