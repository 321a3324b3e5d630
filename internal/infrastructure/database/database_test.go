package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err, "opening test database")
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "xnetbridge.db")
		db, err := Open(Config{Path: dbPath, BusyTimeout: 1})
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck // test cleanup

		info, err := os.Stat(dbPath)
		require.NoError(t, err, "database file not created")
		assert.Equal(t, os.FileMode(filePermissions), info.Mode().Perm())
		assert.Equal(t, dbPath, db.Path())
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := Open(Config{})
		assert.Error(t, err)
	})
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant []string
	}{
		{
			name:    "rollback journal",
			cfg:     Config{Path: "/tmp/a.db", BusyTimeout: 2},
			want:    []string{"file:/tmp/a.db?", "_busy_timeout=2000", "_foreign_keys=on"},
			notWant: []string{"_journal_mode"},
		},
		{
			name: "wal",
			cfg:  Config{Path: "/tmp/a.db", WALMode: true, BusyTimeout: 5},
			want: []string{"_busy_timeout=5000", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.dsn()
			for _, w := range tt.want {
				assert.Contains(t, dsn, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, dsn, w)
			}
		})
	}
}

func TestPragmas(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk, "foreign_keys")

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.True(t, strings.EqualFold(mode, "wal"), "journal_mode = %q", mode)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, db.HealthCheck(ctx))

	db.DB.Close() //nolint:errcheck // forcing failure
	assert.Error(t, db.HealthCheck(ctx), "closed database")
}

func TestClose(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.NoError(t, db.Close())

	empty := &DB{}
	assert.NoError(t, empty.Close(), "empty DB")
}
