package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to a local Postgres, skipping the test when none
// is reachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgUser := envOr("PGUSER", "libris")
	pgPassword := envOr("PGPASSWORD", "dev_password_change_in_prod")
	pgHost := envOr("PGHOST", "localhost")
	pgPort := envOr("PGPORT", "5432")
	pgDB := envOr("PGDATABASE", "libris")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	if err := db.Ping(); err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS journal (
			id BIGSERIAL PRIMARY KEY,
			stream_id UUID NOT NULL,
			stream_kind TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			version INT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, version)
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func entry(eventType string) Entry {
	payload, _ := json.Marshal(map[string]string{"event": eventType})
	return Entry{EventType: eventType, Payload: payload}
}

func TestAppendAndLoad(t *testing.T) {
	db := setupTestDB(t)
	j := NewJournal(db)
	ctx := context.Background()
	streamID := uuid.New()

	err := j.Append(ctx, streamID, "book", 0, []Entry{entry("BookAdded"), entry("BookEdited")})
	require.NoError(t, err)

	entries, err := j.Load(ctx, streamID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BookAdded", entries[0].EventType)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, "BookEdited", entries[1].EventType)
	assert.Equal(t, 2, entries[1].Version)

	version, err := j.CurrentVersion(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestAppendDetectsVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	j := NewJournal(db)
	ctx := context.Background()
	streamID := uuid.New()

	require.NoError(t, j.Append(ctx, streamID, "book", 0, []Entry{entry("BookAdded")}))

	// A writer holding a stale version must be rejected.
	err := j.Append(ctx, streamID, "book", 0, []Entry{entry("BookEdited")})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestLoadMissingStream(t *testing.T) {
	db := setupTestDB(t)
	j := NewJournal(db)

	_, err := j.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestStreamPagination(t *testing.T) {
	db := setupTestDB(t)
	j := NewJournal(db)
	ctx := context.Background()
	streamID := uuid.New()

	require.NoError(t, j.Append(ctx, streamID, "record", 0,
		[]Entry{entry("RentalCreated"), entry("RecordClosed")}))

	first, err := j.Stream(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	rest, err := j.Stream(ctx, first[0].ID, 100)
	require.NoError(t, err)
	require.NotEmpty(t, rest)
	assert.Greater(t, rest[0].ID, first[0].ID)
}
