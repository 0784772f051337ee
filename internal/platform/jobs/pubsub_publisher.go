package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/checkout/internal/services"
)

// PubSubNotificationPublisher publishes rendered notifications to a Pub/Sub topic consumed by the SMS and
// email delivery workers.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationPublisher = (*PubSubNotificationPublisher)(nil)

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues a notification message on the configured topic. Attributes carry routing
// data only; the destination stays in the payload.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, message services.NotificationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", message.ID)
	setAttr(attrs, "kind", message.Kind)
	setAttr(attrs, "channel", message.Channel)
	setAttr(attrs, "orderId", message.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// TopicCheck reports whether the topic exists, for readiness probes.
func TopicCheck(topic *pubsub.Topic) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s not found", topic.ID())
		}
		return nil
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
