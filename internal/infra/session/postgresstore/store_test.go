package postgresstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TAMIAS_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TAMIAS_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIsSafeSessionID(t *testing.T) {
	assert.True(t, isSafeSessionID("session-2bX9_a"))
	assert.False(t, isSafeSessionID(""))
	assert.False(t, isSafeSessionID("a;drop table"))
	assert.False(t, isSafeSessionID("../x"))
}

func TestNilStoreErrors(t *testing.T) {
	var store *Store
	ctx := context.Background()
	assert.Error(t, store.EnsureSchema(ctx))
	_, err := store.List(ctx)
	assert.Error(t, err)
	assert.Error(t, store.Save(ctx, &session.Session{ID: "session-a"}))
}

func TestPostgresRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	sessionID := id.NewSessionID()
	t.Cleanup(func() { _ = store.Delete(context.Background(), sessionID) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &session.Session{
		ID:              sessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
		IsSubagent:      true,
		ParentSessionID: "session-parent",
		Task:            "collect prices",
		SubagentStatus:  session.StatusStarted,
		Messages:        []session.Message{{Role: session.RoleUser, Content: session.TextContent("go"), Timestamp: now}},
	}
	require.NoError(t, store.Save(ctx, sess))

	sess.SubagentStatus = session.StatusCompleted
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.SubagentStatus)
	assert.Equal(t, "collect prices", got.Task)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, sessionID)

	require.NoError(t, store.Delete(ctx, sessionID))
	_, err = store.Load(ctx, sessionID)
	assert.ErrorIs(t, err, ports.ErrSessionNotStored)
}
