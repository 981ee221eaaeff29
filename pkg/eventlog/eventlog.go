package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrVersionConflict = errors.New("version conflict: journal moved underneath the writer")
	ErrStreamNotFound  = errors.New("stream not found")
)

// Entry is a single journaled domain event.
type Entry struct {
	ID         int64           `json:"id" db:"id"`
	StreamID   uuid.UUID       `json:"stream_id" db:"stream_id"`
	StreamKind string          `json:"stream_kind" db:"stream_kind"`
	EventType  string          `json:"event_type" db:"event_type"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	Version    int             `json:"version" db:"version"`
	RecordedAt time.Time       `json:"recorded_at" db:"recorded_at"`
}

// Journal is an append-only event log backed by Postgres. Appends are
// guarded by optimistic concurrency on the stream version.
type Journal struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("libris/eventlog"),
	}
}

// Append writes entries for one stream, failing with ErrVersionConflict if
// the stream's current version differs from expectedVersion.
func (j *Journal) Append(ctx context.Context, streamID uuid.UUID, streamKind string, expectedVersion int, entries []Entry) error {
	ctx, span := j.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID.String()),
			attribute.String("stream.kind", streamKind),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("entry.count", len(entries)),
		),
	)
	defer span.End()

	tx, err := j.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM journal
		WHERE stream_id = $1
	`, streamID).Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrVersionConflict
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal (stream_id, stream_kind, event_type, payload, version, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		version := expectedVersion + i + 1

		var entryID int64
		err = stmt.QueryRowContext(
			ctx,
			streamID,
			streamKind,
			entry.EventType,
			entry.Payload,
			version,
			time.Now().UTC(),
		).Scan(&entryID)
		if err != nil {
			// Unique constraint violation means a concurrent writer won the race.
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert entry %d: %w", i, err)
		}

		span.AddEvent("entry.appended", trace.WithAttributes(
			attribute.Int64("entry.id", entryID),
			attribute.Int("entry.version", version),
			attribute.String("entry.type", entry.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Load retrieves all entries for one stream in version order.
func (j *Journal) Load(ctx context.Context, streamID uuid.UUID) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "eventlog.load",
		trace.WithAttributes(attribute.String("stream.id", streamID.String())),
	)
	defer span.End()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_kind, event_type, payload, version, recorded_at
		FROM journal
		WHERE stream_id = $1
		ORDER BY version ASC
	`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrStreamNotFound
	}

	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}

// Stream provides a cursor-based feed across all streams, for projections
// and audit tooling.
func (j *Journal) Stream(ctx context.Context, fromID int64, batchSize int) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "eventlog.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_kind, event_type, payload, version, recorded_at
		FROM journal
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query entry stream: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("entries.streamed", len(entries)))
	return entries, nil
}

// CurrentVersion returns the latest version for a stream, zero if absent.
func (j *Journal) CurrentVersion(ctx context.Context, streamID uuid.UUID) (int, error) {
	var version int
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM journal
		WHERE stream_id = $1
	`, streamID).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		err := rows.Scan(
			&entry.ID,
			&entry.StreamID,
			&entry.StreamKind,
			&entry.EventType,
			&entry.Payload,
			&entry.Version,
			&entry.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
