// ABOUTME: Tests for component assembly helpers
// ABOUTME: Checks which database path OpenStore uses

package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mentor-gateway/internal/config"
)

func TestOpenStore_UsesConfiguredPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentor.db")
	t.Setenv("MENTOR_DB_PATH", "")

	s, err := OpenStore(&config.Config{Database: config.DatabaseConfig{Path: path}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenStore_EnvOverridesPath(t *testing.T) {
	dir := t.TempDir()
	configured := filepath.Join(dir, "configured.db")
	override := filepath.Join(dir, "override.db")
	t.Setenv("MENTOR_DB_PATH", override)

	s, err := OpenStore(&config.Config{Database: config.DatabaseConfig{Path: configured}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(override)
	assert.NoError(t, err)
	_, err = os.Stat(configured)
	assert.True(t, os.IsNotExist(err))
}
