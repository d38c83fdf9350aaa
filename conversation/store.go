// Package conversation persists chat sessions and their messages.
//
// A session is addressed either by its canonical id, a 24 character hex
// ObjectID minted by the store, or by an external key chosen by the client.
// External keys are resolved with an atomic find-or-create, so concurrent
// first contact from the same client yields a single session.
package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github/itish2003/pdfrag/models"
)

// maxTitleRunes bounds a session title derived from its first question.
const maxTitleRunes = 80

// Store is implemented by every conversation backend.
type Store interface {
	// ResolveSession maps an optional client supplied id to a canonical id.
	// An empty id creates a session. A canonical id must exist. Anything else
	// is an external key and is found or created.
	ResolveSession(ctx context.Context, id string) (string, error)

	// AppendMessage stores a message and bumps the session's last activity
	// to the same timestamp. The first user message also titles the session.
	AppendMessage(ctx context.Context, sessionID string, role models.Role, content string, sources []models.SourceRef) error

	// FetchHistoryPairs returns the last limit (question, answer) pairs in
	// chronological order.
	FetchHistoryPairs(ctx context.Context, sessionID string, limit int) ([]models.HistoryPair, error)

	// ListSessions returns sessions by most recent activity first.
	ListSessions(ctx context.Context) ([]models.Session, error)

	// GetSessionMessages returns a session's messages oldest first. The id
	// must be canonical.
	GetSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	Close(ctx context.Context) error
}

// IsCanonicalID reports whether id is a 24 character hex ObjectID.
func IsCanonicalID(id string) bool {
	return len(id) == 24 && primitive.IsValidObjectID(id)
}

func newCanonicalID() string {
	return primitive.NewObjectID().Hex()
}

// PairHistory folds ordered messages into (question, answer) pairs. A user
// message opens a pair and the next assistant message closes it; a user
// message left open is dropped. Only the last limit pairs are returned.
func PairHistory(msgs []models.Message, limit int) []models.HistoryPair {
	pairs := []models.HistoryPair{}
	if limit <= 0 {
		return pairs
	}
	var open *string
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			q := m.Content
			open = &q
		case models.RoleAssistant:
			if open != nil {
				pairs = append(pairs, models.HistoryPair{Question: *open, Answer: m.Content})
				open = nil
			}
		}
	}
	if len(pairs) > limit {
		pairs = pairs[len(pairs)-limit:]
	}
	return pairs
}

// titleFrom derives a session title from a question.
func titleFrom(question string) string {
	r := []rune(question)
	if len(r) > maxTitleRunes {
		r = r[:maxTitleRunes]
	}
	return string(r)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
