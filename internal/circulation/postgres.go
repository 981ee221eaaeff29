// internal/circulation/postgres.go
package circulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libris/pkg/eventlog"
)

// postgresStore persists circulation records to the read model and
// journals the corresponding domain events.
type postgresStore struct {
	db      *sql.DB
	journal *eventlog.Journal
}

func NewPostgresStore(db *sql.DB, journal *eventlog.Journal) RecordStore {
	return &postgresStore{db: db, journal: journal}
}

func (s *postgresStore) Save(ctx context.Context, record *Record) error {
	if err := s.journalCreated(ctx, record); err != nil {
		return err
	}

	query := `
		INSERT INTO records (id, kind, member_name, book_title, created_at, due_date, return_date, extensions, returned, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.Kind, record.Member, record.Book, record.CreatedAt,
		nullTime(record.DueDate), record.ReturnDate, record.Extensions, record.Returned,
		nullTime(record.ExpiresAt), record.Active)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *postgresStore) journalCreated(ctx context.Context, record *Record) error {
	var (
		eventType string
		payload   []byte
		err       error
	)
	switch record.Kind {
	case KindHold:
		eventType = "HoldCreated"
		payload, err = json.Marshal(HoldCreatedEvent{
			RecordID:  record.ID,
			Member:    record.Member,
			Book:      record.Book,
			ExpiresAt: record.ExpiresAt,
		})
	default:
		eventType = "RentalCreated"
		payload, err = json.Marshal(RentalCreatedEvent{
			RecordID: record.ID,
			Member:   record.Member,
			Book:     record.Book,
			DueDate:  record.DueDate,
		})
	}
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	entry := eventlog.Entry{EventType: eventType, Payload: payload}
	if err := s.journal.Append(ctx, record.ID, "record", 0, []eventlog.Entry{entry}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `
		SELECT id, kind, member_name, book_title, created_at, due_date, return_date, extensions, returned, expires_at, active
		FROM records
		WHERE id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

func (s *postgresStore) List(ctx context.Context) ([]*Record, error) {
	query := `
		SELECT id, kind, member_name, book_title, created_at, due_date, return_date, extensions, returned, expires_at, active
		FROM records
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *postgresStore) Update(ctx context.Context, record *Record) error {
	payload, err := json.Marshal(RecordClosedEvent{
		RecordID: record.ID,
		Kind:     record.Kind,
		Book:     record.Book,
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	version, err := s.journal.CurrentVersion(ctx, record.ID)
	if err != nil {
		return err
	}
	entry := eventlog.Entry{EventType: "RecordClosed", Payload: payload}
	if err := s.journal.Append(ctx, record.ID, "record", version, []eventlog.Entry{entry}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	query := `
		UPDATE records
		SET return_date = $1, extensions = $2, returned = $3, active = $4
		WHERE id = $5
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ReturnDate, record.Extensions, record.Returned, record.Active, record.ID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	record := &Record{}
	var dueDate, expiresAt sql.NullTime
	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Member,
		&record.Book,
		&record.CreatedAt,
		&dueDate,
		&record.ReturnDate,
		&record.Extensions,
		&record.Returned,
		&expiresAt,
		&record.Active,
	)
	if err != nil {
		return nil, err
	}
	if dueDate.Valid {
		record.DueDate = dueDate.Time
	}
	if expiresAt.Valid {
		record.ExpiresAt = expiresAt.Time
	}
	return record, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
