package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-lab/backend/internal/config"
	"github.com/character-lab/backend/internal/model"
)

func TestNewTestDBMigrates(t *testing.T) {
	gdb, err := NewTestDB()
	require.NoError(t, err)
	defer Close(gdb)

	for _, table := range []string{"users", "characters", "character_images", "video_tasks", "videos"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")
	gdb, err := Open(config.DatabaseConfig{
		URL:          "sqlite://" + path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	defer Close(gdb)

	user := model.User{Email: "a@example.com", Username: "a", HashedPassword: "x"}
	require.NoError(t, gdb.Create(&user).Error)
	assert.NotEmpty(t, user.ID)
	assert.FileExists(t, path)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(config.DatabaseConfig{URL: "mysql://localhost/db"})
	assert.Error(t, err)
}
