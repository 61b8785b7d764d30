package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

func TestRunRepository_SaveAndList(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewRunRepository(tx)
	base := time.Date(2090, 4, 1, 10, 0, 0, 0, time.UTC)
	subID := uuid.New()

	older := &models.RunReport{
		AsOf:            date(2090, 4, 1),
		StartedAt:       base,
		FinishedAt:      base.Add(time.Second),
		ExpensesCreated: 3,
	}
	newer := &models.RunReport{
		AsOf:             date(2090, 4, 2),
		StartedAt:        base.Add(24 * time.Hour),
		FinishedAt:       base.Add(24*time.Hour + time.Second),
		ExpensesCreated:  1,
		BacklogRemaining: []uuid.UUID{subID},
		Failures: []models.RunFailure{
			{SubscriptionID: subID, Period: date(2090, 3, 15), Error: "storage down"},
		},
	}
	require.NoError(t, repo.SaveRun(ctx, older))
	require.NoError(t, repo.SaveRun(ctx, newer))
	require.NotZero(t, older.ID)
	require.Greater(t, newer.ID, older.ID)

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.Equal(t, newer.ID, runs[0].ID)
	require.True(t, runs[0].AsOf.Equal(date(2090, 4, 2)))
	require.Equal(t, 1, runs[0].ExpensesCreated)
	require.Equal(t, []uuid.UUID{subID}, runs[0].BacklogRemaining)
	require.Len(t, runs[0].Failures, 1)
	require.Equal(t, "storage down", runs[0].Failures[0].Error)

	require.Equal(t, older.ID, runs[1].ID)
	require.Equal(t, 3, runs[1].ExpensesCreated)

	runs, err = repo.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, newer.ID, runs[0].ID)
}
