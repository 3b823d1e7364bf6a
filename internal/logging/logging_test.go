package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name           string
		verbose, quiet bool
		want           zerolog.Level
	}{
		{name: "default", want: zerolog.InfoLevel},
		{name: "verbose", verbose: true, want: zerolog.DebugLevel},
		{name: "quiet", quiet: true, want: zerolog.WarnLevel},
		{name: "verbose wins", verbose: true, quiet: true, want: zerolog.DebugLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Level(tc.verbose, tc.quiet))
		})
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tl.log")
	l, err := New(Options{File: path, Console: &buf})
	require.NoError(t, err)

	l.Info().Str("task_id", "t-1").Msg("task transitioned")
	l.Debug().Msg("hidden")
	require.NoError(t, l.Close())

	assert.Contains(t, buf.String(), `"task_id":"t-1"`)
	assert.NotContains(t, buf.String(), "hidden")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task transitioned")
}

func TestCloseWithoutFile(t *testing.T) {
	l, err := New(Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}
