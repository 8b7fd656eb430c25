package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyMessage    = errors.New("chat: message requires text or an image")
	ErrMessageNotFound = errors.New("chat: message not found")
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// ImagePreview is the latest-message placeholder shown instead of raw text
// when a message carries an image attachment.
const ImagePreview = "📷 Image"

// Image points at an uploaded attachment in object storage.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Message is one entry of a chat's durable history. After creation only the
// seen fields ever change, and only from false to true.
type Message struct {
	ID        string
	ChatID    ChatID
	Sender    string
	Text      string
	Image     *Image
	Type      MessageType
	Seen      bool
	SeenAt    *time.Time
	CreatedAt time.Time
}

// Preview returns the latest-message summary text for this message.
func (m *Message) Preview() string {
	if m.Type == MessageImage {
		return ImagePreview
	}
	return m.Text
}

// MessageRepository persists messages. MarkSeen must only flip messages that
// are still unseen, so a repeated call with the same ids marks nothing.
type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	ListByChat(ctx context.Context, chatID ChatID) ([]*Message, error)
	UnseenIDs(ctx context.Context, chatID ChatID, excludeSender string) ([]string, error)
	MarkSeen(ctx context.Context, ids []string, at time.Time) (int64, error)
	CountUnseen(ctx context.Context, chatID ChatID, excludeSender string) (int64, error)
}
