package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "chatly/internal/domain/chat"
)

// ChatRepository stores chats in memory. Backs tests and the memory storage
// mode; not suitable for production.
type ChatRepository struct {
	mu   sync.RWMutex
	byID map[domainchat.ChatID]*domainchat.Chat
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{byID: make(map[domainchat.ChatID]*domainchat.Chat)}
}

func (r *ChatRepository) ByID(ctx context.Context, id domainchat.ChatID) (*domainchat.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byID[id]; ok {
		return cloneChat(c), nil
	}
	return nil, domainchat.ErrNotFound
}

func (r *ChatRepository) ByUsers(ctx context.Context, userA, userB string) (*domainchat.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byID {
		if len(c.Users) != 2 {
			continue
		}
		if (c.Users[0] == userA && c.Users[1] == userB) || (c.Users[0] == userB && c.Users[1] == userA) {
			return cloneChat(c), nil
		}
	}
	return nil, domainchat.ErrNotFound
}

func (r *ChatRepository) Create(ctx context.Context, chat *domainchat.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[chat.ID] = cloneChat(chat)
	return nil
}

func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var chats []*domainchat.Chat
	for _, c := range r.byID {
		if c.HasParticipant(userID) {
			chats = append(chats, cloneChat(c))
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *ChatRepository) SetLatestMessage(ctx context.Context, id domainchat.ChatID, latest domainchat.LatestMessage, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return domainchat.ErrNotFound
	}
	c.LatestMessage = &domainchat.LatestMessage{Text: latest.Text, Sender: latest.Sender}
	c.UpdatedAt = at.UTC()
	return nil
}

func cloneChat(c *domainchat.Chat) *domainchat.Chat {
	if c == nil {
		return nil
	}
	copyChat := *c
	copyChat.Users = append([]string(nil), c.Users...)
	if c.LatestMessage != nil {
		latest := *c.LatestMessage
		copyChat.LatestMessage = &latest
	}
	return &copyChat
}
