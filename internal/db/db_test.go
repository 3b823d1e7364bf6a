package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPath(t *testing.T) {
	assert.Equal(t, filepath.Join(".", ".taskline", "taskline.db"), Config{}.Path())
	assert.Equal(t, filepath.Join("ws", ".taskline", "taskline.db"), Config{Workspace: "ws"}.Path())
	assert.Equal(t, filepath.Join("ws", "data", "x.db"), Config{Workspace: "ws", File: filepath.Join("data", "x.db")}.Path())
	abs := filepath.Join(t.TempDir(), "abs.db")
	assert.Equal(t, abs, Config{Workspace: "ws", File: abs}.Path())
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.FileExists(t, filepath.Join(dir, WorkspaceDir, FileName))

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 1, conn.Stats().MaxOpenConnections)
}
