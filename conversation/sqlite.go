package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github/itish2003/pdfrag/conversation/migrations"
	"github/itish2003/pdfrag/models"
)

// SQLiteStore is the embedded conversation backend.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string, log logrus.FieldLogger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:  db,
		log: log.WithField("component", "conversation"),
		now: nowUTC,
	}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.log.Infof("CONVERSATION: SQLite store ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

// migrate runs every *.up.sql newer than the recorded schema version.
func (s *SQLiteStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ResolveSession(ctx context.Context, id string) (string, error) {
	now := s.now().UnixNano()

	if id == "" {
		sid := newCanonicalID()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, created_at, last_activity_at) VALUES (?, ?, ?)
		`, sid, now, now)
		if err != nil {
			return "", fmt.Errorf("creating session: %w", err)
		}
		return sid, nil
	}

	if IsCanonicalID(id) {
		var sid string
		err := s.db.QueryRowContext(ctx, "SELECT id FROM sessions WHERE id = ?", id).Scan(&sid)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		if err != nil {
			return "", fmt.Errorf("looking up session: %w", err)
		}
		return sid, nil
	}

	// External key: insert if absent, then read back whichever row won.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, external_key, created_at, last_activity_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (external_key) WHERE external_key IS NOT NULL DO NOTHING
	`, newCanonicalID(), id, now, now)
	if err != nil {
		return "", fmt.Errorf("upserting session %q: %w", id, err)
	}
	var sid string
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM sessions WHERE external_key = ?", id).Scan(&sid); err != nil {
		return "", fmt.Errorf("reading session %q: %w", id, err)
	}
	return sid, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string, sources []models.SourceRef) error {
	if sources == nil {
		sources = []models.SourceRef{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshalling sources: %w", err)
	}
	title := ""
	if role == models.RoleUser {
		title = titleFrom(content)
	}
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Timestamps never go backwards within a session, even if the wall clock does.
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET last_activity_at = MAX(last_activity_at, ?),
		    title = CASE WHEN title = '' THEN ? ELSE title END
		WHERE id = ?
	`, now, title, sessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if err := tx.QueryRowContext(ctx, `SELECT last_activity_at FROM sessions WHERE id = ?`, sessionID).Scan(&now); err != nil {
		return fmt.Errorf("reading session activity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, string(role), content, string(sourcesJSON), now)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) FetchHistoryPairs(ctx context.Context, sessionID string, limit int) ([]models.HistoryPair, error) {
	if limit <= 0 {
		return []models.HistoryPair{}, nil
	}
	msgs, err := s.messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return PairHistory(msgs, limit), nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.external_key, s.created_at, s.last_activity_at, s.title, s.meta,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.last_activity_at DESC, s.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var (
			sess        models.Session
			externalKey sql.NullString
			created     int64
			lastActive  int64
			metaJSON    string
		)
		if err := rows.Scan(&sess.ID, &externalKey, &created, &lastActive, &sess.Title, &metaJSON, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.ExternalKey = externalKey.String
		sess.CreatedAt = time.Unix(0, created).UTC()
		sess.LastActivityAt = time.Unix(0, lastActive).UTC()
		if err := json.Unmarshal([]byte(metaJSON), &sess.Meta); err != nil {
			s.log.Warnf("CONVERSATION WARN: bad meta on session %s: %v", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if !IsCanonicalID(sessionID) {
		return nil, fmt.Errorf("%w: session_id must be a 24-char hex ObjectId", models.ErrValidation)
	}
	return s.messages(ctx, sessionID)
}

func (s *SQLiteStore) messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sources, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m           models.Message
			role        string
			sourcesJSON string
			created     int64
		)
		if err := rows.Scan(&role, &m.Content, &sourcesJSON, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.SessionID = sessionID
		m.Role = models.Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(sourcesJSON), &m.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
