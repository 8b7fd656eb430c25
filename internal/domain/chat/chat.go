package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserRequired       = errors.New("chat: both user ids are required")
	ErrSelfChat           = errors.New("chat: cannot create a chat with yourself")
	ErrNotFound           = errors.New("chat: not found")
	ErrNotParticipant     = errors.New("chat: user is not a participant")
	ErrNoOtherParticipant = errors.New("chat: no second participant")
)

type ChatID = string

// LatestMessage is the denormalized preview stored on the chat record.
// It is derived state, rebuildable from the message history.
type LatestMessage struct {
	Text   string
	Sender string
}

// Chat is a persistent two-party conversation. Users always holds exactly
// two distinct ids; order carries no meaning.
type Chat struct {
	ID            ChatID
	Users         []string
	LatestMessage *LatestMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New validates the participant pair and builds a fresh chat.
func New(id, userA, userB string, now time.Time) (*Chat, error) {
	if userA == "" || userB == "" {
		return nil, ErrUserRequired
	}
	if userA == userB {
		return nil, ErrSelfChat
	}
	return &Chat{
		ID:        id,
		Users:     []string{userA, userB},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the member of the pair that is not userID.
func (c *Chat) OtherParticipant(userID string) (string, error) {
	for _, u := range c.Users {
		if u != userID && u != "" {
			return u, nil
		}
	}
	return "", ErrNoOtherParticipant
}

// Repository persists chats. ByUsers matches the exact unordered pair.
type Repository interface {
	ByID(ctx context.Context, id ChatID) (*Chat, error)
	ByUsers(ctx context.Context, userA, userB string) (*Chat, error)
	Create(ctx context.Context, chat *Chat) error
	ListForUser(ctx context.Context, userID string) ([]*Chat, error)
	SetLatestMessage(ctx context.Context, id ChatID, latest LatestMessage, at time.Time) error
}
