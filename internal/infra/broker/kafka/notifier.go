package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chatly/internal/app/services/messages"
)

// Notifier publishes offline-message notifications for the out-of-process
// notification pipeline (mail/push consumers live outside this service).
type Notifier struct {
	Producer *Producer
	Topic    string
	Logger   *slog.Logger
}

func (n *Notifier) Publish(ctx context.Context, notification messages.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("kafka: encode notification: %w", err)
	}
	// Keyed by chat id so notifications for one chat stay ordered.
	if err := n.Producer.Publish(n.Topic, notification.ChatID, payload); err != nil {
		return fmt.Errorf("kafka: publish notification: %w", err)
	}
	n.Logger.Debug("offline notification published",
		"topic", n.Topic, "chat_id", notification.ChatID, "message_id", notification.MessageID)
	return nil
}
