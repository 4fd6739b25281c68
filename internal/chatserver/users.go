// internal/chatserver/users.go

package chatserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// UserInfo is the display data the conversation list embeds.
type UserInfo struct {
	ID    string `db:"id"`
	Email string `db:"email"`
	Name  string `db:"name"`
	Role  string `db:"role"`
}

// UserDirectory resolves users owned by the auth service.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*UserInfo, error)
}

// PostgresUsers reads the auth service's users table.
type PostgresUsers struct {
	db *sqlx.DB
}

func NewPostgresUsers(db *sqlx.DB) *PostgresUsers {
	return &PostgresUsers{db: db}
}

func (u *PostgresUsers) GetUser(ctx context.Context, id string) (*UserInfo, error) {
	query := `
        SELECT id::text AS id, email, first_name || ' ' || last_name AS name, role
        FROM users
        WHERE id::text = $1`

	var info UserInfo
	if err := u.db.GetContext(ctx, &info, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &info, nil
}

// StaticUsers is an in-memory directory for development and tests.
type StaticUsers struct {
	mu    sync.RWMutex
	users map[string]UserInfo
}

func NewStaticUsers(users ...UserInfo) *StaticUsers {
	s := &StaticUsers{users: make(map[string]UserInfo, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *StaticUsers) Put(u UserInfo) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *StaticUsers) GetUser(ctx context.Context, id string) (*UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
