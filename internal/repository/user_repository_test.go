package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
)

func TestUserRepository_EnsureUser(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewUserRepository(tx)

	t.Run("creates bare user", func(t *testing.T) {
		require.False(t, userExists(t, tx, 777))
		require.NoError(t, repo.EnsureUser(ctx, 777))
		require.True(t, userExists(t, tx, 777))

		var currency string
		err := tx.QueryRow(ctx, `SELECT default_currency FROM users WHERE id = $1`, 777).Scan(&currency)
		require.NoError(t, err)
		require.Equal(t, "SGD", currency)
	})

	t.Run("leaves existing user untouched", func(t *testing.T) {
		_, err := tx.Exec(ctx, `INSERT INTO users (id, username) VALUES ($1, $2)`, 778, "kept")
		require.NoError(t, err)
		require.NoError(t, repo.EnsureUser(ctx, 778))

		var username string
		err = tx.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, 778).Scan(&username)
		require.NoError(t, err)
		require.Equal(t, "kept", username)
	})
}
