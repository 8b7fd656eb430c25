package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "chatly/internal/domain/chat"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection("messages")}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	_, err := r.col.InsertOne(ctx, newMessageDocument(msg))
	return err
}

// ListByChat returns the chat's history, oldest first.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID domainchat.ChatID) ([]*domainchat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*domainchat.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, doc.toDomain())
	}
	return messages, cursor.Err()
}

// UnseenIDs lists ids of unseen messages in the chat that were not sent by
// excludeSender, oldest first.
func (r *MessageRepository) UnseenIDs(ctx context.Context, chatID domainchat.ChatID, excludeSender string) ([]string, error) {
	filter := bson.M{"chat_id": chatID, "sender": bson.M{"$ne": excludeSender}, "seen": false}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// MarkSeen flips the listed messages to seen. The seen=false guard keeps the
// transition monotonic and makes repeated calls mark nothing.
func (r *MessageRepository) MarkSeen(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}, "seen": false}
	update := bson.M{"$set": bson.M{"seen": true, "seen_at": at.UnixMilli()}}
	res, err := r.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) CountUnseen(ctx context.Context, chatID domainchat.ChatID, excludeSender string) (int64, error) {
	filter := bson.M{"chat_id": chatID, "sender": bson.M{"$ne": excludeSender}, "seen": false}
	return r.col.CountDocuments(ctx, filter)
}

type messageDocument struct {
	ID        string         `bson:"_id"`
	ChatID    string         `bson:"chat_id"`
	Sender    string         `bson:"sender"`
	Text      string         `bson:"text,omitempty"`
	Image     *imageDocument `bson:"image,omitempty"`
	Type      string         `bson:"message_type"`
	Seen      bool           `bson:"seen"`
	SeenAt    *int64         `bson:"seen_at,omitempty"`
	CreatedAt int64          `bson:"created_at"`
}

type imageDocument struct {
	URL      string `bson:"url"`
	PublicID string `bson:"public_id"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	doc := messageDocument{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Sender:    m.Sender,
		Text:      m.Text,
		Type:      string(m.Type),
		Seen:      m.Seen,
		CreatedAt: m.CreatedAt.UnixMilli(),
	}
	if m.Image != nil {
		doc.Image = &imageDocument{URL: m.Image.URL, PublicID: m.Image.PublicID}
	}
	if m.SeenAt != nil {
		ms := m.SeenAt.UnixMilli()
		doc.SeenAt = &ms
	}
	return doc
}

func (d messageDocument) toDomain() *domainchat.Message {
	m := &domainchat.Message{
		ID:        d.ID,
		ChatID:    d.ChatID,
		Sender:    d.Sender,
		Text:      d.Text,
		Type:      domainchat.MessageType(d.Type),
		Seen:      d.Seen,
		CreatedAt: timestampToTime(d.CreatedAt),
	}
	if d.Image != nil {
		m.Image = &domainchat.Image{URL: d.Image.URL, PublicID: d.Image.PublicID}
	}
	if d.SeenAt != nil {
		t := timestampToTime(*d.SeenAt)
		m.SeenAt = &t
	}
	return m
}
