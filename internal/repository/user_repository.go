package repository

import (
	"context"
	"fmt"

	"gitlab.com/yelinaung/subscription-engine/internal/database"
)

// UserRepository handles user database operations.
type UserRepository struct {
	db database.PGXDB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db database.PGXDB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser creates a bare user row if none exists. Existing rows are untouched.
func (r *UserRepository) EnsureUser(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}
