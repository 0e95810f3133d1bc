package database

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cama.db")

	for range 2 {
		db, err := Open(path, zerolog.Nop())
		require.NoError(t, err)

		var tables int
		err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'
			AND name IN ('players', 'matches', 'match_participants', 'rating_history', 'match_votes')`).Scan(&tables)
		require.NoError(t, err)
		assert.Equal(t, 5, tables)

		var fk int
		require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
		assert.Equal(t, 1, fk)

		var mode string
		require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
		assert.Equal(t, "wal", mode)

		require.NoError(t, db.Close())
	}
}
