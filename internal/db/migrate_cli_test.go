package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMigrate(t *testing.T, path, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := MigrateCommand{Path: path, Out: &out, In: strings.NewReader(input)}.Run(args)
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	out, err := runMigrate(t, path, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")
	assert.Contains(t, out, "2 version(s) behind")

	out, err = runMigrate(t, path, "", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2 (dirty: false)")

	out, err = runMigrate(t, path, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Up to date")

	out, err = runMigrate(t, path, "", "down")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	out, err = runMigrate(t, path, "", "version", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated to version 2")

	out, err = runMigrate(t, path, "n\n", "force", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")

	out, err = runMigrate(t, path, "y\n", "force", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "forced to 1")

	out, err = runMigrate(t, path, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "1 version(s) behind")
}

func TestMigrateCommand_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"no action", nil, "missing migrate action"},
		{"unknown", []string{"sideways"}, "unknown migrate action"},
		{"version without number", []string{"version"}, "usage"},
		{"bad number", []string{"force", "x"}, "invalid version number"},
		{"negative", []string{"version", "-1"}, "invalid version number"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runMigrate(t, path, "", tc.args...)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	out, err := runMigrate(t, path, "", "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: blelocate migrate")
}
