package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "chatly/internal/domain/chat"
)

type ChatRepository struct {
	col *mongo.Collection
}

func NewChatRepository(db *mongo.Database) *ChatRepository {
	return &ChatRepository{col: db.Collection("chats")}
}

func (r *ChatRepository) ByID(ctx context.Context, id domainchat.ChatID) (*domainchat.Chat, error) {
	var doc chatDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

// ByUsers matches the chat whose users array contains exactly this pair,
// order-independently.
func (r *ChatRepository) ByUsers(ctx context.Context, userA, userB string) (*domainchat.Chat, error) {
	filter := bson.M{"users": bson.M{"$all": bson.A{userA, userB}, "$size": 2}}
	var doc chatDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ChatRepository) Create(ctx context.Context, chat *domainchat.Chat) error {
	_, err := r.col.InsertOne(ctx, newChatDocument(chat))
	return err
}

// ListForUser returns the user's chats, most recently updated first.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := r.col.Find(ctx, bson.M{"users": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*domainchat.Chat
	for cursor.Next(ctx) {
		var doc chatDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		chats = append(chats, doc.toDomain())
	}
	return chats, cursor.Err()
}

func (r *ChatRepository) SetLatestMessage(ctx context.Context, id domainchat.ChatID, latest domainchat.LatestMessage, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"latest_message": latestMessageDocument{Text: latest.Text, Sender: latest.Sender},
		"updated_at":     at.UnixMilli(),
	}}
	res, err := r.col.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrNotFound
	}
	return nil
}

type chatDocument struct {
	ID            string                 `bson:"_id"`
	Users         []string               `bson:"users"`
	LatestMessage *latestMessageDocument `bson:"latest_message,omitempty"`
	CreatedAt     int64                  `bson:"created_at"`
	UpdatedAt     int64                  `bson:"updated_at"`
}

type latestMessageDocument struct {
	Text   string `bson:"text"`
	Sender string `bson:"sender"`
}

func newChatDocument(c *domainchat.Chat) chatDocument {
	doc := chatDocument{
		ID:        c.ID,
		Users:     append([]string(nil), c.Users...),
		CreatedAt: c.CreatedAt.UnixMilli(),
		UpdatedAt: c.UpdatedAt.UnixMilli(),
	}
	if c.LatestMessage != nil {
		doc.LatestMessage = &latestMessageDocument{Text: c.LatestMessage.Text, Sender: c.LatestMessage.Sender}
	}
	return doc
}

func (d chatDocument) toDomain() *domainchat.Chat {
	c := &domainchat.Chat{
		ID:        d.ID,
		Users:     append([]string(nil), d.Users...),
		CreatedAt: timestampToTime(d.CreatedAt),
		UpdatedAt: timestampToTime(d.UpdatedAt),
	}
	if d.LatestMessage != nil {
		c.LatestMessage = &domainchat.LatestMessage{Text: d.LatestMessage.Text, Sender: d.LatestMessage.Sender}
	}
	return c
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
