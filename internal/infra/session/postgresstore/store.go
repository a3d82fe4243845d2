package postgresstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionTable = "tamias_sessions"

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var _ ports.SessionStore = (*Store)(nil)

// Store implements a Postgres-backed session store. The full record is kept
// as JSONB; parent and sub-agent columns exist for operator queries.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// New constructs a Postgres-backed session store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: logging.NewComponentLogger("SessionPostgresStore"),
	}
}

// Open connects a pool and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the session table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    parent_session_id TEXT NOT NULL DEFAULT '',
    is_subagent BOOLEAN NOT NULL DEFAULT FALSE,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tamias_sessions_updated_at ON %s (updated_at DESC);
`, sessionTable, sessionTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// Load retrieves a session by ID.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeSessionID(sessionID) {
		return nil, ports.ErrSessionNotStored
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, sessionTable)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, sessionID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrSessionNotStored
		}
		return nil, err
	}

	var sess session.Session
	if err := jsonx.Unmarshal(data, &sess); err != nil {
		s.logger.Error("Failed to decode session row %s: %v", sessionID, err)
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save upserts a session record.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if !isSafeSessionID(sess.ID) {
		return fmt.Errorf("invalid session ID")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}

	createdAt, updatedAt := sess.CreatedAt, sess.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	data, err := jsonx.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, parent_session_id, is_subagent, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    parent_session_id = EXCLUDED.parent_session_id,
    is_subagent = EXCLUDED.is_subagent,
    data = EXCLUDED.data,
    updated_at = EXCLUDED.updated_at
`, sessionTable)

	_, err = s.pool.Exec(ctx, query, sess.ID, sess.ParentSessionID, sess.IsSubagent, data, createdAt, updatedAt)
	return err
}

// List returns all session IDs, most recently updated first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY updated_at DESC`, sessionTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, err
		}
		ids = append(ids, sessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes a session. Unknown ids are not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isSafeSessionID(sessionID) {
		return fmt.Errorf("invalid session ID")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, sessionTable)
	_, err := s.pool.Exec(ctx, query, sessionID)
	return err
}

func isSafeSessionID(sessionID string) bool {
	return sessionIDPattern.MatchString(sessionID)
}
