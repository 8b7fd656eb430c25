package messages

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatly/internal/app/dto"
	"chatly/internal/infra/realtime"

	domainchat "chatly/internal/domain/chat"
	domainuser "chatly/internal/domain/user"
)

// Emitter is the slice of the connection registry the delivery path needs.
// All emissions are best effort; an offline target is skipped silently.
type Emitter interface {
	IsUserOnline(userID string) bool
	IsUserInRoom(userID, roomID string) bool
	EmitToUser(userID, event string, payload any)
	EmitToRoomAndUsers(roomID, event string, payload any, userIDs ...string)
}

// Notification describes a message whose receiver had no live connection at
// send time, published for the out-of-process notification pipeline.
type Notification struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Preview   string    `json:"preview"`
	SentAt    time.Time `json:"sentAt"`
}

// Notifier publishes offline-message notifications. Publish failures must be
// tolerated by callers; the message store remains authoritative.
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
}

// Service is the message lifecycle state machine: validate, persist, update
// the chat summary, fan out. Persistence failures abort before any fan-out;
// events are never emitted for a message that was not stored.
type Service struct {
	Chats     domainchat.Repository
	Messages  domainchat.MessageRepository
	Registry  Emitter
	Directory domainuser.Directory
	Notifier  Notifier // optional
	Logger    *slog.Logger

	chatLocks sync.Map // chat id -> *sync.Mutex
}

// SendParams carries one send-message request. At least one of Text or Image
// must be set.
type SendParams struct {
	SenderID string
	ChatID   string
	Text     string
	Image    *domainchat.Image
}

// Send runs the delivery state machine and returns the persisted message.
//
// The seen fork: when the receiver's live connection is already joined to the
// chat room, the message is born seen and the sender is told immediately,
// avoiding a separate receipt round-trip.
func (s *Service) Send(ctx context.Context, p SendParams) (*domainchat.Message, error) {
	if p.Text == "" && p.Image == nil {
		return nil, domainchat.ErrEmptyMessage
	}
	c, err := s.Chats.ByID(ctx, p.ChatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(p.SenderID) {
		return nil, domainchat.ErrNotParticipant
	}
	receiverID, err := c.OtherParticipant(p.SenderID)
	if err != nil {
		return nil, err
	}

	// Persist-then-summarize must not interleave with another send to the
	// same chat, or the latest-message preview could regress.
	lock := s.lockFor(p.ChatID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	msg := &domainchat.Message{
		ID:        uuid.NewString(),
		ChatID:    p.ChatID,
		Sender:    p.SenderID,
		Text:      p.Text,
		Image:     p.Image,
		Type:      domainchat.MessageText,
		CreatedAt: now,
	}
	if p.Image != nil {
		msg.Type = domainchat.MessageImage
	}
	if s.Registry.IsUserInRoom(receiverID, p.ChatID) {
		msg.Seen = true
		msg.SeenAt = &now
	}

	if err := s.Messages.Insert(ctx, msg); err != nil {
		return nil, err
	}
	latest := domainchat.LatestMessage{Text: msg.Preview(), Sender: p.SenderID}
	if err := s.Chats.SetLatestMessage(ctx, p.ChatID, latest, now); err != nil {
		// The message exists; the preview is derived state and will catch up
		// on the next send. Surface nothing to the caller.
		s.Logger.Warn("latest message update failed", "chat_id", p.ChatID, "error", err)
	}

	s.fanOut(ctx, msg, receiverID)
	return msg, nil
}

func (s *Service) fanOut(ctx context.Context, msg *domainchat.Message, receiverID string) {
	// One newMessage per connection: chat room members, the receiver's direct
	// connection (covers a receiver looking at their chat list), and the
	// sender's own connection for multi-tab sync.
	s.Registry.EmitToRoomAndUsers(msg.ChatID, realtime.EventNewMessage, dto.NewMessage(msg), receiverID, msg.Sender)

	if msg.Seen {
		s.Registry.EmitToUser(msg.Sender, realtime.EventMessagesSeen, realtime.SeenPayload{
			ChatID:     msg.ChatID,
			SeenBy:     receiverID,
			MessageIDs: []string{msg.ID},
		})
		return
	}
	if s.Notifier != nil && !s.Registry.IsUserOnline(receiverID) {
		n := Notification{
			ChatID:    msg.ChatID,
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Receiver:  receiverID,
			Preview:   msg.Preview(),
			SentAt:    msg.CreatedAt,
		}
		if err := s.Notifier.Publish(ctx, n); err != nil {
			s.Logger.Warn("offline notification publish failed", "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		}
	}
}

// OpenChatResult is the outcome of a user opening a chat.
type OpenChatResult struct {
	Messages   []*domainchat.Message
	MarkedSeen []string
	OtherUser  domainuser.Profile
}

// OpenChat returns the full ordered history of the chat and marks every
// unseen message addressed to userID as seen. The select-and-mark pair only
// flips messages that are still unseen, so reopening a chat neither
// double-marks nor re-notifies.
func (s *Service) OpenChat(ctx context.Context, userID, chatID string) (*OpenChatResult, error) {
	c, err := s.Chats.ByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, domainchat.ErrNotParticipant
	}
	otherID, err := c.OtherParticipant(userID)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(chatID)
	lock.Lock()
	unseen, err := s.Messages.UnseenIDs(ctx, chatID, userID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if len(unseen) > 0 {
		if _, err := s.Messages.MarkSeen(ctx, unseen, time.Now().UTC()); err != nil {
			lock.Unlock()
			return nil, err
		}
	}
	lock.Unlock()

	history, err := s.Messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if len(unseen) > 0 {
		s.Registry.EmitToUser(otherID, realtime.EventMessagesSeen, realtime.SeenPayload{
			ChatID:     chatID,
			SeenBy:     userID,
			MessageIDs: unseen,
		})
	}

	profile, err := s.Directory.Lookup(ctx, otherID)
	if err != nil {
		s.Logger.Warn("directory lookup failed, using placeholder", "user_id", otherID, "error", err)
		profile = domainuser.Placeholder(otherID)
	}

	return &OpenChatResult{
		Messages:   history,
		MarkedSeen: unseen,
		OtherUser:  profile,
	}, nil
}

func (s *Service) lockFor(chatID string) *sync.Mutex {
	lock, _ := s.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
