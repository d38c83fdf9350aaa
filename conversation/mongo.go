package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github/itish2003/pdfrag/models"
)

const (
	sessionsCollection = "sessions"
	messagesCollection = "messages"
)

type sessionDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	SessionKey     string             `bson:"session_key,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	LastActivityAt time.Time          `bson:"last_activity_at"`
	Title          string             `bson:"title,omitempty"`
	Meta           map[string]string  `bson:"meta"`
	MessageSeq     int64              `bson:"message_seq"`
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID primitive.ObjectID `bson:"session_id"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	Sources   []models.SourceRef `bson:"sources"`
	CreatedAt time.Time          `bson:"created_at"`
	Seq       int64              `bson:"seq"`
}

// MongoStore keeps sessions and messages in two MongoDB collections.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
	log      logrus.FieldLogger
	now      func() time.Time
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to uri, selects database and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string, log logrus.FieldLogger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		sessions: db.Collection(sessionsCollection),
		messages: db.Collection(messagesCollection),
		log:      log.WithField("component", "conversation"),
		now:      nowUTC,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	s.log.Infof("CONVERSATION: Mongo store ready on database %s", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "last_activity_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "session_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"session_key": bson.M{"$exists": true}}).
				SetName("uniq_session_key_if_present"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating session indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating message index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ResolveSession(ctx context.Context, id string) (string, error) {
	now := s.now()

	if id == "" {
		res, err := s.sessions.InsertOne(ctx, sessionDoc{
			ID:             primitive.NewObjectID(),
			CreatedAt:      now,
			LastActivityAt: now,
			Meta:           map[string]string{},
		})
		if err != nil {
			return "", fmt.Errorf("creating session: %w", err)
		}
		return res.InsertedID.(primitive.ObjectID).Hex(), nil
	}

	if IsCanonicalID(id) {
		oid, _ := primitive.ObjectIDFromHex(id)
		err := s.sessions.FindOne(ctx, bson.M{"_id": oid}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		if err != nil {
			return "", fmt.Errorf("looking up session: %w", err)
		}
		return id, nil
	}

	// Two concurrent upserts on the same key can both miss and race on the
	// unique index; the loser retries and finds the winner's document.
	var doc sessionDoc
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.sessions.FindOneAndUpdate(ctx,
			bson.M{"session_key": id},
			bson.M{"$setOnInsert": bson.M{
				"created_at":       now,
				"last_activity_at": now,
				"meta":             bson.M{},
				"session_key":      id,
			}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&doc)
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("upserting session %q: %w", id, err)
	}
	return doc.ID.Hex(), nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string, sources []models.SourceRef) error {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return fmt.Errorf("%w: bad session id %q", models.ErrValidation, sessionID)
	}
	if sources == nil {
		sources = []models.SourceRef{}
	}
	// message_seq orders the session's messages; $max keeps timestamps
	// non-decreasing when the wall clock steps back.
	var session sessionDoc
	err = s.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$max": bson.M{"last_activity_at": s.now()},
			"$inc": bson.M{"message_seq": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	_, err = s.messages.InsertOne(ctx, messageDoc{
		SessionID: oid,
		Role:      string(role),
		Content:   content,
		Sources:   sources,
		CreatedAt: session.LastActivityAt,
		Seq:       session.MessageSeq,
	})
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if role == models.RoleUser {
		_, err := s.sessions.UpdateOne(ctx,
			bson.M{"_id": oid, "$or": bson.A{bson.M{"title": bson.M{"$exists": false}}, bson.M{"title": ""}}},
			bson.M{"$set": bson.M{"title": titleFrom(content)}},
		)
		if err != nil {
			s.log.Warnf("CONVERSATION WARN: could not title session %s: %v", sessionID, err)
		}
	}
	return nil
}

func (s *MongoStore) FetchHistoryPairs(ctx context.Context, sessionID string, limit int) ([]models.HistoryPair, error) {
	if limit <= 0 {
		return []models.HistoryPair{}, nil
	}
	msgs, err := s.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return PairHistory(msgs, limit), nil
}

func (s *MongoStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	cur, err := s.sessions.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: -1}, {Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding sessions: %w", err)
	}

	sessions := make([]models.Session, 0, len(docs))
	for _, d := range docs {
		count, err := s.messages.CountDocuments(ctx, bson.M{"session_id": d.ID})
		if err != nil {
			return nil, fmt.Errorf("counting messages: %w", err)
		}
		sessions = append(sessions, models.Session{
			ID:             d.ID.Hex(),
			ExternalKey:    d.SessionKey,
			CreatedAt:      d.CreatedAt.UTC(),
			LastActivityAt: d.LastActivityAt.UTC(),
			Title:          d.Title,
			Meta:           d.Meta,
			MessageCount:   int(count),
		})
	}
	return sessions, nil
}

func (s *MongoStore) GetSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if !IsCanonicalID(sessionID) {
		return nil, fmt.Errorf("%w: session_id must be a 24-char hex ObjectId", models.ErrValidation)
	}
	oid, _ := primitive.ObjectIDFromHex(sessionID)

	cur, err := s.messages.Find(ctx, bson.M{"session_id": oid},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	msgs := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		sources := d.Sources
		if sources == nil {
			sources = []models.SourceRef{}
		}
		msgs = append(msgs, models.Message{
			SessionID: sessionID,
			Role:      models.Role(d.Role),
			Content:   d.Content,
			Sources:   sources,
			CreatedAt: d.CreatedAt.UTC(),
		})
	}
	return msgs, nil
}
