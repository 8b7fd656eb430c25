package messages

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatly/internal/app/dto"
	domainchat "chatly/internal/domain/chat"
	domainuser "chatly/internal/domain/user"
	"chatly/internal/infra/realtime"
	"chatly/internal/infra/storage/memory"
)

type emission struct {
	Target  string // "user:<id>" or "fanout:<room>"
	Event   string
	Payload any
}

// fakeRegistry implements Emitter with scriptable presence and records every
// emission.
type fakeRegistry struct {
	mu        sync.Mutex
	online    map[string]bool
	roomsByID map[string]map[string]bool // userID -> room set
	emissions []emission
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{online: map[string]bool{}, roomsByID: map[string]map[string]bool{}}
}

func (r *fakeRegistry) connect(userID string, rooms ...string) {
	r.online[userID] = true
	set := map[string]bool{}
	for _, room := range rooms {
		set[room] = true
	}
	r.roomsByID[userID] = set
}

func (r *fakeRegistry) IsUserOnline(userID string) bool { return r.online[userID] }

func (r *fakeRegistry) IsUserInRoom(userID, roomID string) bool {
	return r.roomsByID[userID][roomID]
}

func (r *fakeRegistry) EmitToUser(userID, event string, payload any) {
	r.record(emission{Target: "user:" + userID, Event: event, Payload: payload})
}

func (r *fakeRegistry) EmitToRoomAndUsers(roomID, event string, payload any, _ ...string) {
	r.record(emission{Target: "fanout:" + roomID, Event: event, Payload: payload})
}

func (r *fakeRegistry) record(e emission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = append(r.emissions, e)
}

func (r *fakeRegistry) byEvent(event string) []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emission
	for _, e := range r.emissions {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []Notification
	err       error
}

func (n *fakeNotifier) Publish(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, notification)
	return nil
}

type stubDirectory struct{}

func (stubDirectory) Lookup(_ context.Context, id string) (domainuser.Profile, error) {
	return domainuser.Profile{ID: id, Name: "User " + id}, nil
}

type fixture struct {
	svc      *Service
	registry *fakeRegistry
	notifier *fakeNotifier
	chats    *memory.ChatRepository
	messages *memory.MessageRepository
	chat     *domainchat.Chat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := newFakeRegistry()
	notifier := &fakeNotifier{}
	chatRepo := memory.NewChatRepository()
	messageRepo := memory.NewMessageRepository()

	c, err := domainchat.New("chat-1", "u1", "u2", time.Now())
	require.NoError(t, err)
	require.NoError(t, chatRepo.Create(context.Background(), c))

	return &fixture{
		svc: &Service{
			Chats:     chatRepo,
			Messages:  messageRepo,
			Registry:  registry,
			Directory: stubDirectory{},
			Notifier:  notifier,
			Logger:    slog.New(slog.DiscardHandler),
		},
		registry: registry,
		notifier: notifier,
		chats:    chatRepo,
		messages: messageRepo,
		chat:     c,
	}
}

func TestSend_RejectsEmptyPayload(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-1"})
	req.ErrorIs(err, domainchat.ErrEmptyMessage)
	req.Empty(f.registry.byEvent(realtime.EventNewMessage))
}

func TestSend_UnknownChat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-missing", Text: "hi"})
	req.ErrorIs(err, domainchat.ErrNotFound)
}

func TestSend_NonParticipantIsForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), SendParams{SenderID: "intruder", ChatID: "chat-1", Text: "hi"})
	req.ErrorIs(err, domainchat.ErrNotParticipant)
	req.Empty(f.registry.byEvent(realtime.EventNewMessage))
}

func TestSend_ReceiverOffline_MessageIsUnseenAndNotified(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given u2 has no live connection
	msg, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)

	// Then the message is persisted unseen
	req.False(msg.Seen)
	req.Nil(msg.SeenAt)
	req.Equal(domainchat.MessageText, msg.Type)

	// And newMessage was fanned out but no seen receipt was emitted
	req.Len(f.registry.byEvent(realtime.EventNewMessage), 1)
	req.Empty(f.registry.byEvent(realtime.EventMessagesSeen))

	// And an offline notification was published for u2
	req.Len(f.notifier.published, 1)
	req.Equal("u2", f.notifier.published[0].Receiver)
	req.Equal(msg.ID, f.notifier.published[0].MessageID)
}

func TestSend_ReceiverInChatRoom_MessageIsBornSeen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given u2 is connected and has the chat open
	f.registry.connect("u2", "chat-1")

	msg, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)

	req.True(msg.Seen)
	req.NotNil(msg.SeenAt)

	// And the sender was told immediately
	seen := f.registry.byEvent(realtime.EventMessagesSeen)
	req.Len(seen, 1)
	req.Equal("user:u1", seen[0].Target)
	req.Equal(realtime.SeenPayload{ChatID: "chat-1", SeenBy: "u2", MessageIDs: []string{msg.ID}}, seen[0].Payload)

	// And no offline notification was published
	req.Empty(f.notifier.published)
}

func TestSend_ReceiverOnlineButOutsideRoom_MessageStaysUnseen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given u2 is connected but looking at the chat list, not this chat
	f.registry.connect("u2")

	msg, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)

	req.False(msg.Seen)
	req.Empty(f.registry.byEvent(realtime.EventMessagesSeen))
	// Online receivers are reachable in real time, no queue notification
	req.Empty(f.notifier.published)
}

func TestSend_UpdatesLatestMessageSummary(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hello there"})
	req.NoError(err)

	c, err := f.chats.ByID(ctx, "chat-1")
	req.NoError(err)
	req.NotNil(c.LatestMessage)
	req.Equal("hello there", c.LatestMessage.Text)
	req.Equal("u1", c.LatestMessage.Sender)
	req.True(c.UpdatedAt.After(f.chat.UpdatedAt) || c.UpdatedAt.Equal(f.chat.UpdatedAt))
}

func TestSend_ImageMessageUsesPlaceholderPreview(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	image := &domainchat.Image{URL: "http://cdn/img.png", PublicID: "chat/img.png"}
	msg, err := f.svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "chat-1", Image: image})
	req.NoError(err)

	req.Equal(domainchat.MessageImage, msg.Type)
	req.Equal(image, msg.Image)

	c, err := f.chats.ByID(ctx, "chat-1")
	req.NoError(err)
	req.Equal(domainchat.ImagePreview, c.LatestMessage.Text)

	// The fanned-out payload carries the full message record
	fanned := f.registry.byEvent(realtime.EventNewMessage)
	req.Len(fanned, 1)
	payload, ok := fanned[0].Payload.(dto.Message)
	req.True(ok)
	req.Equal(msg.ID, payload.ID)
	req.Equal("image", payload.MessageType)
}

func TestOpenChat_NonParticipantIsForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.svc.OpenChat(context.Background(), "intruder", "chat-1")
	req.ErrorIs(err, domainchat.ErrNotParticipant)
}

func TestOpenChat_MarksUnseenAndNotifiesSender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given u1 sent three messages while u2 was away
	var sent []*domainchat.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "chat-1", Text: text})
		req.NoError(err)
		sent = append(sent, msg)
	}
	unseen, err := f.messages.CountUnseen(ctx, "chat-1", "u2")
	req.NoError(err)
	req.Equal(int64(3), unseen)

	// When u2 opens the chat
	result, err := f.svc.OpenChat(ctx, "u2", "chat-1")
	req.NoError(err)

	// Then the full history comes back oldest first, all marked seen
	req.Len(result.Messages, 3)
	req.Equal("one", result.Messages[0].Text)
	req.Equal("three", result.Messages[2].Text)
	req.Len(result.MarkedSeen, 3)
	for _, m := range result.Messages {
		req.True(m.Seen)
		req.NotNil(m.SeenAt)
	}
	unseen, err = f.messages.CountUnseen(ctx, "chat-1", "u2")
	req.NoError(err)
	req.Zero(unseen)

	// And the sender was notified once with the marked ids
	seen := f.registry.byEvent(realtime.EventMessagesSeen)
	req.Len(seen, 1)
	req.Equal("user:u1", seen[0].Target)
	payload, ok := seen[0].Payload.(realtime.SeenPayload)
	req.True(ok)
	req.Equal("u2", payload.SeenBy)
	req.ElementsMatch([]string{sent[0].ID, sent[1].ID, sent[2].ID}, payload.MessageIDs)
}

func TestOpenChat_ReopeningDoesNotDoubleMarkOrRenotify(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)

	first, err := f.svc.OpenChat(ctx, "u2", "chat-1")
	req.NoError(err)
	req.Len(first.MarkedSeen, 1)
	firstSeenAt := *first.Messages[0].SeenAt

	second, err := f.svc.OpenChat(ctx, "u2", "chat-1")
	req.NoError(err)

	// Seen stays true and seenAt does not move
	req.Empty(second.MarkedSeen)
	req.True(second.Messages[0].Seen)
	req.Equal(firstSeenAt, *second.Messages[0].SeenAt)
	req.Len(f.registry.byEvent(realtime.EventMessagesSeen), 1)
}

func TestOpenChat_SenderOpeningOwnChatMarksNothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)

	result, err := f.svc.OpenChat(ctx, "u1", "chat-1")
	req.NoError(err)

	// Own messages are never marked by the sender
	req.Empty(result.MarkedSeen)
	req.False(result.Messages[0].Seen)
	req.Empty(f.registry.byEvent(realtime.EventMessagesSeen))
}

func TestOpenChat_ReturnsOtherUserProfile(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	result, err := f.svc.OpenChat(context.Background(), "u1", "chat-1")
	req.NoError(err)
	req.Equal("u2", result.OtherUser.ID)
	req.Equal("User u2", result.OtherUser.Name)
}

func TestOpenChat_DirectoryFailureFallsBackToPlaceholder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.svc.Directory = failingDirectory{}

	result, err := f.svc.OpenChat(context.Background(), "u1", "chat-1")
	req.NoError(err)
	req.Equal(domainuser.Placeholder("u2"), result.OtherUser)
}

type failingDirectory struct{}

func (failingDirectory) Lookup(context.Context, string) (domainuser.Profile, error) {
	return domainuser.Profile{}, errors.New("directory: timeout")
}

func TestSend_NotifierFailureDoesNotFailTheSend(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.notifier.err = errors.New("kafka: broker unavailable")

	msg, err := f.svc.Send(context.Background(), SendParams{SenderID: "u1", ChatID: "chat-1", Text: "hi"})
	req.NoError(err)
	req.False(msg.Seen)
}

// Full round trip from the testable-properties scenario: offline delivery
// followed by a later open-chat receipt.
func TestScenario_OfflineDeliveryThenOpenChatReceipt(t *testing.T) {
	req := require.New(t)
	registry := newFakeRegistry()
	chatRepo := memory.NewChatRepository()
	messageRepo := memory.NewMessageRepository()
	svc := &Service{
		Chats:     chatRepo,
		Messages:  messageRepo,
		Registry:  registry,
		Directory: stubDirectory{},
		Logger:    slog.New(slog.DiscardHandler),
	}
	ctx := context.Background()

	c, err := domainchat.New("c1", "u1", "u2", time.Now())
	req.NoError(err)
	req.NoError(chatRepo.Create(ctx, c))

	// u1 sends "hi" while u2 is disconnected
	msg, err := svc.Send(ctx, SendParams{SenderID: "u1", ChatID: "c1", Text: "hi"})
	req.NoError(err)
	req.False(msg.Seen)

	stored, err := chatRepo.ByID(ctx, "c1")
	req.NoError(err)
	req.Equal(&domainchat.LatestMessage{Text: "hi", Sender: "u1"}, stored.LatestMessage)

	// u2 comes back and opens the chat
	registry.connect("u1", "u1")
	result, err := svc.OpenChat(ctx, "u2", "c1")
	req.NoError(err)
	req.Len(result.Messages, 1)
	req.Equal([]string{msg.ID}, result.MarkedSeen)

	// u1, still connected, receives the receipt
	seen := registry.byEvent(realtime.EventMessagesSeen)
	req.Len(seen, 1)
	req.Equal("user:u1", seen[0].Target)
	req.Equal(realtime.SeenPayload{ChatID: "c1", SeenBy: "u2", MessageIDs: []string{msg.ID}}, seen[0].Payload)
}
