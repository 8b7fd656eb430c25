package chats

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domainchat "chatly/internal/domain/chat"
	domainuser "chatly/internal/domain/user"
)

// Service owns chat lifecycle: idempotent get-or-create of the unique chat
// between two users, and the enriched chat listing.
type Service struct {
	Chats     domainchat.Repository
	Messages  domainchat.MessageRepository
	Directory domainuser.Directory
	Logger    *slog.Logger

	// Serializes first-contact creation so two concurrent requests for the
	// same pair cannot both miss the lookup. No unique index is assumed in
	// the store, so the lock is the in-process uniqueness guarantee.
	createMu sync.Mutex
}

// ChatWithUser is one row of a user's chat list.
type ChatWithUser struct {
	Chat        *domainchat.Chat
	User        domainuser.Profile
	UnseenCount int64
}

// CreateOrGet returns the chat between the two users, creating it on first
// contact. Repeated and order-swapped calls resolve to the same chat. The
// second return value reports whether a chat was created by this call.
func (s *Service) CreateOrGet(ctx context.Context, userA, userB string) (*domainchat.Chat, bool, error) {
	if userA == "" || userB == "" {
		return nil, false, domainchat.ErrUserRequired
	}
	if userA == userB {
		return nil, false, domainchat.ErrSelfChat
	}

	existing, err := s.Chats.ByUsers(ctx, userA, userB)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domainchat.ErrNotFound) {
		return nil, false, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	// Re-check under the lock: another request may have created it between
	// our lookup and here.
	existing, err = s.Chats.ByUsers(ctx, userA, userB)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domainchat.ErrNotFound) {
		return nil, false, err
	}

	created, err := domainchat.New(uuid.NewString(), userA, userB, time.Now())
	if err != nil {
		return nil, false, err
	}
	if err := s.Chats.Create(ctx, created); err != nil {
		return nil, false, err
	}
	s.Logger.Info("chat created", "chat_id", created.ID, "users", created.Users)
	return created, true, nil
}

// ListForUser returns the user's chats, most recently active first, each with
// the unseen-message count and the other participant's directory profile.
// Directory failures degrade to a placeholder profile, never to an error.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]ChatWithUser, error) {
	if userID == "" {
		return nil, domainchat.ErrUserRequired
	}
	chats, err := s.Chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]ChatWithUser, 0, len(chats))
	for _, c := range chats {
		otherID, err := c.OtherParticipant(userID)
		if err != nil {
			s.Logger.Warn("chat without second participant, skipping", "chat_id", c.ID)
			continue
		}
		unseen, err := s.Messages.CountUnseen(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		result = append(result, ChatWithUser{
			Chat:        c,
			User:        s.lookupProfile(ctx, otherID),
			UnseenCount: unseen,
		})
	}
	return result, nil
}

func (s *Service) lookupProfile(ctx context.Context, userID string) domainuser.Profile {
	profile, err := s.Directory.Lookup(ctx, userID)
	if err != nil {
		s.Logger.Warn("directory lookup failed, using placeholder", "user_id", userID, "error", err)
		return domainuser.Placeholder(userID)
	}
	return profile
}
