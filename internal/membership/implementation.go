// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"libris/pkg/eventlog"
)

// service implements the Service interface.
type service struct {
	journal *eventlog.Journal
	db      *sql.DB
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewService creates a new membership service instance.
func NewService(journal *eventlog.Journal, db *sql.DB, logger zerolog.Logger) Service {
	return &service{
		journal: journal,
		db:      db,
		limiter: rate.NewLimiter(rate.Every(time.Second), 10), // 10 credential ops per second
		logger:  logger,
	}
}

// Register creates a new member with a salted argon2id credential.
func (s *service) Register(ctx context.Context, input Registration) (*Member, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	if _, err := s.GetMember(ctx, input.Name); err == nil {
		return nil, ErrDuplicateName
	} else if err != ErrNotFound {
		return nil, err
	}

	role := input.Role
	if role != RoleLibrarian {
		role = RoleMember
	}

	id := uuid.New()
	passwordHash, salt, err := hashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	payload, err := json.Marshal(MemberRegisteredEvent{
		ID:    id,
		Name:  input.Name,
		Email: input.Email,
		Role:  role,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	entry := eventlog.Entry{EventType: "MemberRegistered", Payload: payload}
	if err := s.journal.Append(ctx, id, "member", 0, []eventlog.Entry{entry}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	member := &Member{
		ID:        id,
		Name:      input.Name,
		Email:     input.Email,
		Role:      role,
		BirthDate: input.BirthDate,
		Phone:     input.Phone,
		Address:   input.Address,
		Version:   1,
	}
	credential := &Credential{
		MemberID:     id,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.insertMember(ctx, member, credential); err != nil {
		return nil, fmt.Errorf("update read model: %w", err)
	}

	s.logger.Info().Str("member", member.Name).Str("role", member.Role).Msg("member registered")
	return member, nil
}

func (s *service) insertMember(ctx context.Context, member *Member, credential *Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	memberQuery := `
		INSERT INTO members (id, name, email, role, birth_date, phone, address, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, memberQuery,
		member.ID, member.Name, member.Email, member.Role,
		member.BirthDate, member.Phone, member.Address, member.Version)
	if err != nil {
		return err
	}

	credQuery := `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`
	_, err = tx.ExecContext(ctx, credQuery,
		credential.MemberID, credential.PasswordHash, credential.Salt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Authenticate verifies a member's credentials.
func (s *service) Authenticate(ctx context.Context, name, password string) (*Member, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	member, err := s.GetMember(ctx, name)
	if err != nil {
		return nil, err
	}

	var hash, salt string
	err = s.db.QueryRowContext(ctx, `
		SELECT password_hash, salt FROM credentials WHERE member_id = $1
	`, member.ID).Scan(&hash, &salt)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	ok, err := verifyPassword(password, salt, hash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return member, nil
}

// GetMember retrieves a member by name.
func (s *service) GetMember(ctx context.Context, name string) (*Member, error) {
	query := `
		SELECT id, name, email, role, birth_date, phone, address, version, created_at, updated_at
		FROM members
		WHERE name = $1
	`
	member := &Member{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&member.ID,
		&member.Name,
		&member.Email,
		&member.Role,
		&member.BirthDate,
		&member.Phone,
		&member.Address,
		&member.Version,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member from read model: %w", err)
	}
	return member, nil
}

// ListMembers returns all registered members.
func (s *service) ListMembers(ctx context.Context) ([]*Member, error) {
	query := `
		SELECT id, name, email, role, birth_date, phone, address, version, created_at, updated_at
		FROM members
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		err := rows.Scan(
			&member.ID, &member.Name, &member.Email, &member.Role, &member.BirthDate,
			&member.Phone, &member.Address, &member.Version, &member.CreatedAt, &member.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}
