package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ilkin0/chunkup/internal/database"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/ilkin0/chunkup/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithTx_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.SetupPostgres(t)
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		testutil.CleanDatabase(ctx, db)

		var created sqlc.UploadSession
		err := database.RunWithTx(ctx, db.Pool, func(q sqlc.Querier) error {
			created = testutil.CreateTestSession(t, q, ctx, testutil.DefaultTestSessionOptions())
			return nil
		})
		require.NoError(t, err)

		got, err := db.Queries.GetUploadSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.FileName, got.FileName)
	})

	t.Run("rolls back and keeps the caller's error", func(t *testing.T) {
		testutil.CleanDatabase(ctx, db)
		errAbort := errors.New("abort")

		var created sqlc.UploadSession
		err := database.NewTxRunner(db.Pool)(ctx, func(q sqlc.Querier) error {
			created = testutil.CreateTestSession(t, q, ctx, testutil.DefaultTestSessionOptions())
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		_, err = db.Queries.GetUploadSession(ctx, created.ID)
		assert.ErrorIs(t, err, pgx.ErrNoRows)
	})
}
