package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndMigrate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dagent.db")

	conn, err := ConnectToDB(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn, zerolog.Nop()))
	// second run is a no-op
	require.NoError(t, Migrate(ctx, conn, zerolog.Nop()))

	statuses, err := MigrationStatus(ctx, conn)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, goose.StateApplied, s.State)
	}

	for _, table := range []string{"conversations", "conversation_turns", "conversation_signals"} {
		var name string
		err := conn.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}
