package dto

import (
	"time"

	"github.com/samber/lo"

	domainchat "chatly/internal/domain/chat"
	domainuser "chatly/internal/domain/user"
)

// Message is the wire form of a chat message. The same shape is used in HTTP
// responses and in newMessage event payloads.
type Message struct {
	ID          string            `json:"id"`
	ChatID      string            `json:"chatId"`
	Sender      string            `json:"sender"`
	Text        string            `json:"text,omitempty"`
	Image       *domainchat.Image `json:"image,omitempty"`
	MessageType string            `json:"messageType"`
	Seen        bool              `json:"seen"`
	SeenAt      *time.Time        `json:"seenAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// LatestMessage is the denormalized chat preview.
type LatestMessage struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// ChatSummary is one chat in a user's list.
type ChatSummary struct {
	ID            string         `json:"id"`
	Users         []string       `json:"users"`
	LatestMessage *LatestMessage `json:"latestMessage"`
	UnseenCount   int64          `json:"unseenCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ChatListItem pairs a chat summary with the other participant's profile.
type ChatListItem struct {
	User domainuser.Profile `json:"user"`
	Chat ChatSummary        `json:"chat"`
}

// ChatList is the response of the chat listing endpoint.
type ChatList struct {
	Chats []ChatListItem `json:"chats"`
}

// ChatHistory is the response of the open-chat endpoint.
type ChatHistory struct {
	Messages []Message          `json:"messages"`
	User     domainuser.Profile `json:"user"`
}

func NewMessage(m *domainchat.Message) Message {
	return Message{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Sender:      m.Sender,
		Text:        m.Text,
		Image:       m.Image,
		MessageType: string(m.Type),
		Seen:        m.Seen,
		SeenAt:      m.SeenAt,
		CreatedAt:   m.CreatedAt,
	}
}

func NewMessages(msgs []*domainchat.Message) []Message {
	return lo.Map(msgs, func(m *domainchat.Message, _ int) Message {
		return NewMessage(m)
	})
}

func NewChatSummary(c *domainchat.Chat, unseen int64) ChatSummary {
	summary := ChatSummary{
		ID:          c.ID,
		Users:       append([]string(nil), c.Users...),
		UnseenCount: unseen,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.LatestMessage != nil {
		summary.LatestMessage = &LatestMessage{Text: c.LatestMessage.Text, Sender: c.LatestMessage.Sender}
	}
	return summary
}
