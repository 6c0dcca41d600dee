package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/config"
	"github.com/KingstonPolyAC/PolyField/internal/store"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg = config.Default()
	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd(fstest.MapFS{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "polyfield.db")

	out, err := run(t, "migrate", "version", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "version 0\n", out)

	out, err = run(t, "migrate", "up", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "version 3\n", out)

	out, err = run(t, "migrate", "down", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "version 2\n", out)

	out, err = run(t, "migrate", "force", "1", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "version 1\n", out)

	_, err = run(t, "migrate", "force", "one", "--db", db)
	assert.ErrorContains(t, err, "invalid version")

	_, err = run(t, "migrate", "version")
	assert.EqualError(t, err, "no database configured: set --db")
}

func TestHeatmapCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "polyfield.db")

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.MigrateUp())
	at := time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC)
	for i, p := range [][2]float64{{40, 2}, {42, -1}, {45, 0.5}} {
		require.NoError(t, db.AddThrow(context.Background(), throws.Coordinate{
			X: p[0], Y: p[1], Distance: p[0] - calibration.UkaRadiusDiscus,
			CircleType: calibration.Discus, Timestamp: at.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, db.Close())

	svg := filepath.Join(dir, "discus.svg")
	_, err = run(t, "heatmap", "--db", dbPath, "--circle", "discus", "--grid", "2", "--format", "svg", "--out", svg)
	require.NoError(t, err)
	data, err := os.ReadFile(svg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")

	out, err := run(t, "heatmap", "--circle", "HAMMER", "--format", "html")
	require.NoError(t, err, "an empty in-memory store renders the empty state")
	assert.True(t, strings.Contains(out, "No throws recorded yet"))

	_, err = run(t, "heatmap", "--circle", "CUSTOM")
	assert.ErrorIs(t, err, calibration.ErrInvalidRadius)

	_, err = run(t, "heatmap", "--circle", "SHOT", "--grid", "3")
	assert.Error(t, err)

	_, err = run(t, "heatmap", "--format", "gif")
	assert.ErrorContains(t, err, "unknown heatmap format")
}

func TestConfigValidation(t *testing.T) {
	_, err := run(t, "heatmap", "--backend", "cloud")
	assert.ErrorContains(t, err, `unknown backend mode "cloud"`)

	_, err = run(t, "serve", "--backend", "remote", "--backend-address", "10.0.0.2:8080")
	assert.ErrorContains(t, err, "--backend must be local")
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("POLYFIELD_LOG_LEVEL", "bogus")
	_, err := run(t, "migrate", "version", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, `invalid log level "bogus"`)
}
