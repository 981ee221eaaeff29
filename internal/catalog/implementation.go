// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"libris/internal/notify"
	"libris/pkg/eventlog"
)

// service implements the Service interface.
type service struct {
	journal *eventlog.Journal
	db      *sql.DB
	bridge  *notify.Bridge
	ackWait time.Duration
	logger  zerolog.Logger
}

// NewService creates a new catalog service instance. Every mutation is
// mirrored onto the notification channel and the call blocks until the
// consumer acknowledges it or ackWait elapses.
func NewService(journal *eventlog.Journal, db *sql.DB, bridge *notify.Bridge, ackWait time.Duration, logger zerolog.Logger) Service {
	return &service{
		journal: journal,
		db:      db,
		bridge:  bridge,
		ackWait: ackWait,
		logger:  logger,
	}
}

// AddBook registers a new book in the catalog with all copies available.
func (s *service) AddBook(ctx context.Context, input Book) (*Book, error) {
	if _, err := s.GetBook(ctx, input.Title); err == nil {
		return nil, ErrDuplicateTitle
	} else if err != ErrNotFound {
		return nil, err
	}

	id := uuid.New()
	payload, err := json.Marshal(BookAddedEvent{
		ID:          id,
		Title:       input.Title,
		Author:      input.Author,
		TotalCopies: input.TotalCopies,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	entry := eventlog.Entry{EventType: "BookAdded", Payload: payload}
	if err := s.journal.Append(ctx, id, "book", 0, []eventlog.Entry{entry}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	book := &Book{
		ID:              id,
		Title:           input.Title,
		Author:          input.Author,
		Publisher:       input.Publisher,
		PublicationYear: input.PublicationYear,
		Genre:           input.Genre,
		Description:     input.Description,
		TotalCopies:     input.TotalCopies,
		AvailableCopies: input.TotalCopies,
		Version:         1,
	}
	if err := s.insertBook(ctx, book); err != nil {
		return nil, fmt.Errorf("update read model: %w", err)
	}

	s.notify(ctx, fmt.Sprintf("Book %q registered (%s)", book.Title, book.ID))
	return book, nil
}

func (s *service) insertBook(ctx context.Context, book *Book) error {
	query := `
		INSERT INTO books (id, title, author, publisher, publication_year, genre, description, total_copies, available_copies, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		book.ID, book.Title, book.Author, book.Publisher, book.PublicationYear,
		book.Genre, book.Description, book.TotalCopies, book.AvailableCopies, book.Version)
	return err
}

// GetBook retrieves a book by its title.
func (s *service) GetBook(ctx context.Context, title string) (*Book, error) {
	query := `
		SELECT id, title, author, publisher, publication_year, genre, description,
		       total_copies, available_copies, version, created_at, updated_at
		FROM books
		WHERE title = $1
	`
	book := &Book{}
	err := s.db.QueryRowContext(ctx, query, title).Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Publisher,
		&book.PublicationYear,
		&book.Genre,
		&book.Description,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.Version,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get book from read model: %w", err)
	}
	return book, nil
}

// ListBooks returns the whole catalog.
func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	query := `
		SELECT id, title, author, publisher, publication_year, genre, description,
		       total_copies, available_copies, version, created_at, updated_at
		FROM books
		ORDER BY title ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book := &Book{}
		err := rows.Scan(
			&book.ID, &book.Title, &book.Author, &book.Publisher, &book.PublicationYear,
			&book.Genre, &book.Description, &book.TotalCopies, &book.AvailableCopies,
			&book.Version, &book.CreatedAt, &book.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// EditBook updates a book's descriptive fields and total copies. The
// available count follows the total so the copies invariant holds.
func (s *service) EditBook(ctx context.Context, title string, input Book) (*Book, error) {
	book, err := s.GetBook(ctx, title)
	if err != nil {
		return nil, err
	}

	available := book.AvailableCopies + (input.TotalCopies - book.TotalCopies)
	if available < 0 {
		available = 0
	}
	if available > input.TotalCopies {
		available = input.TotalCopies
	}

	payload, err := json.Marshal(BookEditedEvent{ID: book.ID, Title: input.Title})
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	entry := eventlog.Entry{EventType: "BookEdited", Payload: payload}
	if err := s.journal.Append(ctx, book.ID, "book", book.Version, []eventlog.Entry{entry}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	query := `
		UPDATE books
		SET title = $1, author = $2, publisher = $3, publication_year = $4, genre = $5,
		    description = $6, total_copies = $7, available_copies = $8,
		    version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10
	`
	_, err = s.db.ExecContext(ctx, query,
		input.Title, input.Author, input.Publisher, input.PublicationYear, input.Genre,
		input.Description, input.TotalCopies, available, book.ID, book.Version)
	if err != nil {
		return nil, fmt.Errorf("update read model: %w", err)
	}

	s.notify(ctx, fmt.Sprintf("Book record %s edited", book.ID))
	return s.GetBook(ctx, input.Title)
}

// UpdateCopies commits new copy counters for a book. The circulation
// service calls this to persist ledger decrements and releases.
func (s *service) UpdateCopies(ctx context.Context, title string, newTotal, newAvailable int) error {
	book, err := s.GetBook(ctx, title)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(BookCopiesUpdatedEvent{
		ID:           book.ID,
		NewTotal:     newTotal,
		NewAvailable: newAvailable,
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	entry := eventlog.Entry{EventType: "BookCopiesUpdated", Payload: payload}
	if err := s.journal.Append(ctx, book.ID, "book", book.Version, []eventlog.Entry{entry}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	query := `
		UPDATE books
		SET total_copies = $1, available_copies = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`
	_, err = s.db.ExecContext(ctx, query, newTotal, newAvailable, book.ID, book.Version)
	return err
}

// RemoveBook deletes a book from the catalog.
func (s *service) RemoveBook(ctx context.Context, title string) error {
	book, err := s.GetBook(ctx, title)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(BookRemovedEvent{ID: book.ID, Title: book.Title})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	entry := eventlog.Entry{EventType: "BookRemoved", Payload: payload}
	if err := s.journal.Append(ctx, book.ID, "book", book.Version, []eventlog.Entry{entry}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, book.ID); err != nil {
		return fmt.Errorf("delete from read model: %w", err)
	}

	s.notify(ctx, fmt.Sprintf("Book %q (%s) removed", book.Title, book.ID))
	return nil
}

// notify mirrors a catalog mutation onto the notification channel and
// blocks until the consumer acknowledges it or the wait bound elapses.
// The wait is a staging barrier, not a commit gate.
func (s *service) notify(ctx context.Context, text string) {
	pending, err := s.bridge.Publish(ctx, notify.BookKey, text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("book notification publish failed")
		return
	}
	s.bridge.AwaitAck(ctx, pending, s.ackWait)
}
