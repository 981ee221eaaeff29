// internal/catalog/service.go
package catalog

import "context"

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, input Book) (*Book, error)
	GetBook(ctx context.Context, title string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	EditBook(ctx context.Context, title string, input Book) (*Book, error)
	UpdateCopies(ctx context.Context, title string, newTotal, newAvailable int) error
	RemoveBook(ctx context.Context, title string) error
}
