package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "chatly/internal/domain/chat"
)

// MessageRepository stores messages in memory, ordered by insertion per chat.
type MessageRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domainchat.Message
	byChat map[domainchat.ChatID][]string
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		byID:   make(map[string]*domainchat.Message),
		byChat: make(map[domainchat.ChatID][]string),
	}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[msg.ID] = cloneMessage(msg)
	r.byChat[msg.ChatID] = append(r.byChat[msg.ChatID], msg.ID)
	return nil
}

func (r *MessageRepository) ListByChat(ctx context.Context, chatID domainchat.ChatID) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var messages []*domainchat.Message
	for _, id := range r.byChat[chatID] {
		messages = append(messages, cloneMessage(r.byID[id]))
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (r *MessageRepository) UnseenIDs(ctx context.Context, chatID domainchat.ChatID, excludeSender string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.byChat[chatID] {
		msg := r.byID[id]
		if !msg.Seen && msg.Sender != excludeSender {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, ids []string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at = at.UTC()
	var marked int64
	for _, id := range ids {
		msg, ok := r.byID[id]
		if !ok || msg.Seen {
			continue
		}
		msg.Seen = true
		seenAt := at
		msg.SeenAt = &seenAt
		marked++
	}
	return marked, nil
}

func (r *MessageRepository) CountUnseen(ctx context.Context, chatID domainchat.ChatID, excludeSender string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, id := range r.byChat[chatID] {
		msg := r.byID[id]
		if !msg.Seen && msg.Sender != excludeSender {
			count++
		}
	}
	return count, nil
}

func cloneMessage(m *domainchat.Message) *domainchat.Message {
	if m == nil {
		return nil
	}
	copyMsg := *m
	if m.Image != nil {
		img := *m.Image
		copyMsg.Image = &img
	}
	if m.SeenAt != nil {
		seenAt := *m.SeenAt
		copyMsg.SeenAt = &seenAt
	}
	return &copyMsg
}
