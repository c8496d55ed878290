// ABOUTME: MongoDB implementation of the Store interface using the official driver
// ABOUTME: Stores users and messages as documents and populates participants with a batched lookup

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// MongoStore implements the Store interface on a MongoDB database
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

type userDoc struct {
	ID             string    `bson:"_id"`
	FullName       string    `bson:"full_name"`
	Username       string    `bson:"username"`
	ProfilePicture string    `bson:"profile_picture"`
	CreatedAt      time.Time `bson:"created_at"`
}

type messageDoc struct {
	ID         string    `bson:"_id"`
	FromUserID string    `bson:"from_user_id"`
	ToUserID   string    `bson:"to_user_id"`
	Text       string    `bson:"text"`
	MediaType  string    `bson:"message_type"`
	MediaURL   string    `bson:"media_url"`
	Seen       bool      `bson:"seen"`
	CreatedAt  time.Time `bson:"created_at"`
}

// NewMongoStore connects to MongoDB at uri, verifies the connection and
// ensures the indexes used by conversation and inbox queries exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", database)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "from_user_id", Value: 1}, {Key: "to_user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	s.logger.Info("closing MongoDB store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateUser inserts a user document.
func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(usersCollection).InsertOne(ctx, userDoc{
		ID:             user.ID,
		FullName:       user.FullName,
		Username:       user.Username,
		ProfilePicture: user.ProfilePicture,
		CreatedAt:      user.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return doc.toUser(), nil
}

// CreateMessage inserts a message document.
func (s *MongoStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)
	_, err := s.db.Collection(messagesCollection).InsertOne(ctx, messageDoc{
		ID:         msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		Text:       msg.Text,
		MediaType:  msg.MediaType,
		MediaURL:   msg.MediaURL,
		Seen:       msg.Seen,
		CreatedAt:  msg.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	s.logger.Debug("created message", "id", msg.ID, "from", msg.FromUserID, "to", msg.ToUserID)
	return nil
}

// GetMessage retrieves a message with its sender populated.
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var doc messageDoc
	err := s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	messages, err := s.populate(ctx, []messageDoc{doc}, false)
	if err != nil {
		return nil, err
	}
	return messages[0], nil
}

// ListConversation returns the messages between a and b, newest first.
func (s *MongoStore) ListConversation(ctx context.Context, a, b string) ([]*Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"from_user_id": a, "to_user_id": b},
		bson.M{"from_user_id": b, "to_user_id": a},
	}}
	return s.findMessages(ctx, filter, 0, false)
}

// MarkSeen flags unseen messages from -> to as seen.
func (s *MongoStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	result, err := s.db.Collection(messagesCollection).UpdateMany(ctx,
		bson.M{"from_user_id": from, "to_user_id": to, "seen": false},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	return result.ModifiedCount, nil
}

// ListInbox returns messages addressed to the user, newest first.
func (s *MongoStore) ListInbox(ctx context.Context, to string, limit int) ([]*Message, error) {
	return s.findMessages(ctx, bson.M{"to_user_id": to}, limit, true)
}

func (s *MongoStore) findMessages(ctx context.Context, filter bson.M, limit int, populateTo bool) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return s.populate(ctx, docs, populateTo)
}

// populate attaches participant profiles with a single $in lookup.
func (s *MongoStore) populate(ctx context.Context, docs []messageDoc, populateTo bool) ([]*Message, error) {
	messages := make([]*Message, 0, len(docs))
	if len(docs) == 0 {
		return messages, nil
	}

	seen := make(map[string]bool)
	ids := bson.A{}
	for _, d := range docs {
		for _, id := range []string{d.FromUserID, d.ToUserID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	cursor, err := s.db.Collection(usersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("querying message participants: %w", err)
	}
	var users []userDoc
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decoding message participants: %w", err)
	}
	byID := make(map[string]*User, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].toUser()
	}

	for _, d := range docs {
		msg := d.toMessage()
		msg.From = byID[d.FromUserID]
		if populateTo {
			msg.To = byID[d.ToUserID]
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (d userDoc) toUser() *User {
	return &User{
		ID:             d.ID,
		FullName:       d.FullName,
		Username:       d.Username,
		ProfilePicture: d.ProfilePicture,
		CreatedAt:      d.CreatedAt,
	}
}

func (d messageDoc) toMessage() *Message {
	return &Message{
		ID:         d.ID,
		FromUserID: d.FromUserID,
		ToUserID:   d.ToUserID,
		Text:       d.Text,
		MediaType:  d.MediaType,
		MediaURL:   d.MediaURL,
		Seen:       d.Seen,
		CreatedAt:  d.CreatedAt,
	}
}
