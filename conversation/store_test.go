package conversation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github/itish2003/pdfrag/models"
)

func TestPairHistory(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
	}
	assert.Equal(t, []models.HistoryPair{{Question: "a", Answer: "b"}}, PairHistory(msgs, 8))
	assert.Empty(t, PairHistory(msgs, 0))
	assert.NotNil(t, PairHistory(msgs, 0))
}

func TestPairHistory_KeepsLastPairsAndSkipsOrphans(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleAssistant, Content: "stray"},
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "lost"},
		{Role: models.RoleUser, Content: "q2"},
		{Role: models.RoleAssistant, Content: "a2"},
		{Role: models.RoleUser, Content: "q3"},
		{Role: models.RoleAssistant, Content: "a3"},
	}
	got := PairHistory(msgs, 2)
	assert.Equal(t, []models.HistoryPair{
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
	}, got)
}

func TestIsCanonicalID(t *testing.T) {
	assert.True(t, IsCanonicalID(primitive.NewObjectID().Hex()))
	assert.False(t, IsCanonicalID("6f1c2b7e-0000-4000-8000-000000000000"))
	assert.False(t, IsCanonicalID("zzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.False(t, IsCanonicalID(""))
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newMongoStore(t *testing.T) Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewMongoStore(ctx, uri, "pdfrag_test_"+primitive.NewObjectID().Hex(), log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.sessions.Database().Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

// setClock replaces the store's time source.
func setClock(t *testing.T, s Store, now func() time.Time) {
	t.Helper()
	switch st := s.(type) {
	case *SQLiteStore:
		st.now = now
	case *MongoStore:
		st.now = now
	default:
		t.Fatalf("no clock on %T", s)
	}
}

func TestSQLiteStore(t *testing.T) { runStoreContract(t, newSQLiteStore) }

func TestMongoStore(t *testing.T) { runStoreContract(t, newMongoStore) }

func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("NewSessionsAreDistinct", func(t *testing.T) {
		s := open(t)
		a, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)
		b, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)
		assert.True(t, IsCanonicalID(a))
		assert.NotEqual(t, a, b)
	})

	t.Run("CanonicalIDRoundTrips", func(t *testing.T) {
		s := open(t)
		id, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)
		got, err := s.ResolveSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("UnknownCanonicalIDIsNotFound", func(t *testing.T) {
		s := open(t)
		_, err := s.ResolveSession(ctx, primitive.NewObjectID().Hex())
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("ExternalKeyResolvesToOneSession", func(t *testing.T) {
		s := open(t)
		const key = "3b241101-e2bb-4255-8caf-4136c566a962"

		var wg sync.WaitGroup
		ids := make([]string, 8)
		errs := make([]error, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = s.ResolveSession(ctx, key)
			}(i)
		}
		wg.Wait()

		for i := range ids {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		assert.True(t, IsCanonicalID(ids[0]))

		sessions, err := s.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, key, sessions[0].ExternalKey)
	})

	t.Run("AppendAndFetchHistory", func(t *testing.T) {
		s := open(t)
		id, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)

		for _, m := range []struct {
			role    models.Role
			content string
		}{
			{models.RoleUser, "a"},
			{models.RoleAssistant, "b"},
			{models.RoleUser, "c"},
		} {
			require.NoError(t, s.AppendMessage(ctx, id, m.role, m.content, nil))
		}

		pairs, err := s.FetchHistoryPairs(ctx, id, 8)
		require.NoError(t, err)
		assert.Equal(t, []models.HistoryPair{{Question: "a", Answer: "b"}}, pairs)

		pairs, err = s.FetchHistoryPairs(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, pairs)
	})

	t.Run("MessagesKeepOrderAndSources", func(t *testing.T) {
		s := open(t)
		id, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)

		src := []models.SourceRef{{FileName: "a.pdf", Source: "kb/a.pdf", Snippet: "alpha"}}
		require.NoError(t, s.AppendMessage(ctx, id, models.RoleUser, "what is alpha?", nil))
		require.NoError(t, s.AppendMessage(ctx, id, models.RoleAssistant, "alpha is a letter", src))

		msgs, err := s.GetSessionMessages(ctx, id)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, models.RoleUser, msgs[0].Role)
		assert.Empty(t, msgs[0].Sources)
		assert.Equal(t, models.RoleAssistant, msgs[1].Role)
		assert.Equal(t, src, msgs[1].Sources)
		assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
	})

	t.Run("ClockSteppingBackKeepsOrder", func(t *testing.T) {
		s := open(t)
		id, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)

		base := time.Now().UTC().Truncate(time.Millisecond).Add(time.Hour)
		setClock(t, s, func() time.Time { return base })
		require.NoError(t, s.AppendMessage(ctx, id, models.RoleUser, "q1", nil))
		setClock(t, s, func() time.Time { return base.Add(-2 * time.Second) })
		require.NoError(t, s.AppendMessage(ctx, id, models.RoleAssistant, "a1", nil))

		msgs, err := s.GetSessionMessages(ctx, id)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "q1", msgs[0].Content)
		assert.Equal(t, "a1", msgs[1].Content)
		assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

		pairs, err := s.FetchHistoryPairs(ctx, id, 8)
		require.NoError(t, err)
		assert.Equal(t, []models.HistoryPair{{Question: "q1", Answer: "a1"}}, pairs)
	})

	t.Run("GetSessionMessagesRejectsExternalKey", func(t *testing.T) {
		s := open(t)
		_, err := s.GetSessionMessages(ctx, "not-an-object-id")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("AppendToMissingSessionFails", func(t *testing.T) {
		s := open(t)
		missing := primitive.NewObjectID().Hex()
		err := s.AppendMessage(ctx, missing, models.RoleUser, "hello", nil)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)

		msgs, err := s.GetSessionMessages(ctx, missing)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("ListSessionsByActivityWithTitleAndCount", func(t *testing.T) {
		s := open(t)
		older, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)
		newer, err := s.ResolveSession(ctx, "")
		require.NoError(t, err)

		require.NoError(t, s.AppendMessage(ctx, newer, models.RoleUser, "first", nil))
		time.Sleep(5 * time.Millisecond)
		long := strings.Repeat("x", 120)
		require.NoError(t, s.AppendMessage(ctx, older, models.RoleUser, long, nil))
		require.NoError(t, s.AppendMessage(ctx, older, models.RoleAssistant, "reply", nil))
		require.NoError(t, s.AppendMessage(ctx, older, models.RoleUser, "second question", nil))

		sessions, err := s.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		assert.Equal(t, older, sessions[0].ID)
		assert.Equal(t, 3, sessions[0].MessageCount)
		assert.Equal(t, strings.Repeat("x", 80), sessions[0].Title)
		assert.Equal(t, newer, sessions[1].ID)
		assert.Equal(t, "first", sessions[1].Title)
		assert.Equal(t, 1, sessions[1].MessageCount)
		assert.False(t, sessions[0].LastActivityAt.Before(sessions[1].LastActivityAt))
	})
}
