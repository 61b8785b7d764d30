package repository

import (
	"context"
	"fmt"

	"gitlab.com/yelinaung/subscription-engine/internal/database"
)

// CategoryRepository handles category database operations.
type CategoryRepository struct {
	db database.PGXDB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db database.PGXDB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// ExistsForUser reports whether a category exists and is visible to the user.
func (r *CategoryRepository) ExistsForUser(ctx context.Context, userID int64, id int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM categories
			WHERE id = $1 AND (user_id IS NULL OR user_id = $2)
		)
	`, id, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return exists, nil
}
