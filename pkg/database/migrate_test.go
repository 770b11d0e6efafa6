package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory_AppliesSchema(t *testing.T) {
	db, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"users", "manga", "user_ratings", "user_reading_list", "user_dnr", "user_events"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.NoError(t, Migrate(ctx, db))
}

func TestAccountDeleteCascades(t *testing.T) {
	db, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, username, password_hash) VALUES ('u1', 'alice', 'x')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO user_dnr (user_id, manga_id, created_at) VALUES ('u1', 'm1', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM users WHERE id = 'u1'`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_dnr`).Scan(&n))
	assert.Zero(t, n)
}
