// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libris/internal/catalog"
	"libris/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	Checkout(ctx context.Context, memberName, bookTitle string) Outcome
	Hold(ctx context.Context, memberName, bookTitle string) Outcome
	Return(ctx context.Context, recordID uuid.UUID) (*Record, error)
	CancelHold(ctx context.Context, recordID uuid.UUID) (*Record, error)
	GetRecord(ctx context.Context, recordID uuid.UUID) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
}

// Catalog is the catalog lookup/persistence collaborator.
type Catalog interface {
	GetBook(ctx context.Context, title string) (*catalog.Book, error)
	UpdateCopies(ctx context.Context, title string, newTotal, newAvailable int) error
}

// Members is the participant lookup collaborator.
type Members interface {
	GetMember(ctx context.Context, name string) (*membership.Member, error)
}

// RecordStore persists circulation records. A record is assumed durable
// once Save returns.
type RecordStore interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Update(ctx context.Context, record *Record) error
}
