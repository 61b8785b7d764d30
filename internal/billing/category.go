package billing

import (
	"context"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
)

// CategoryStore answers whether a category exists for an owner.
type CategoryStore interface {
	CategoryVisible(ctx context.Context, userID int64, categoryID int) (bool, error)
}

// CategoryResolver degrades dangling category references to "uncategorized".
type CategoryResolver struct {
	store CategoryStore
}

// NewCategoryResolver creates a CategoryResolver.
func NewCategoryResolver(store CategoryStore) *CategoryResolver {
	return &CategoryResolver{store: store}
}

// Resolve returns categoryID if it still exists for the owner, nil otherwise.
// degraded is true when a non-nil reference was dropped. Lookup failures
// degrade the same way; billing never waits on categorization.
func (r *CategoryResolver) Resolve(ctx context.Context, userID int64, categoryID *int) (resolved *int, degraded bool) {
	if categoryID == nil {
		return nil, false
	}

	ok, err := r.store.CategoryVisible(ctx, userID, *categoryID)
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Int("category_id", *categoryID).
			Str("user_hash", logger.HashUserID(userID)).
			Msg("Category lookup failed, billing as uncategorized")
		return nil, true
	}
	if !ok {
		logger.Log.Warn().
			Int("category_id", *categoryID).
			Str("user_hash", logger.HashUserID(userID)).
			Msg("Subscription category no longer exists, billing as uncategorized")
		return nil, true
	}

	id := *categoryID
	return &id, false
}
