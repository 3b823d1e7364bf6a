// Package db opens the SQLite database behind a Taskline workspace.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	WorkspaceDir = ".taskline"
	FileName     = "taskline.db"
)

type Config struct {
	Workspace string
	// File overrides the database location. Relative paths resolve
	// against Workspace.
	File string
	// BusyTimeout bounds how long a statement waits on a locked database.
	// Zero means five seconds.
	BusyTimeout time.Duration
}

func (c Config) workspace() string {
	if c.Workspace == "" {
		return "."
	}
	return c.Workspace
}

// Path returns the database file the config points at.
func (c Config) Path() string {
	if c.File == "" {
		return filepath.Join(c.workspace(), WorkspaceDir, FileName)
	}
	if filepath.IsAbs(c.File) {
		return c.File
	}
	return filepath.Join(c.workspace(), c.File)
}

// EnsureWorkspace creates the .taskline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, WorkspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the database with foreign keys on and WAL journaling. The pool
// holds a single connection so writers are serialized; code holding a
// transaction must read through that transaction.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busy.Milliseconds())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}
