// internal/membership/service.go
package membership

import "context"

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, input Registration) (*Member, error)
	Authenticate(ctx context.Context, name, password string) (*Member, error)
	GetMember(ctx context.Context, name string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
}
