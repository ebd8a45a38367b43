package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.OTLPHost)
	assert.Equal(t, 0, cfg.OTLPPort)
	assert.Equal(t, 1000, cfg.WidthPx)
	assert.Len(t, cfg.LodThresholds, 5)

	table, err := cfg.BuildLodTable()
	require.NoError(t, err)
	assert.Equal(t, 5, table.Levels())
	assert.Equal(t, int64(10), table.Threshold(0))
	assert.Equal(t, int64(time.Second), table.Threshold(4))
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
otlp_port: 4317
http_port: 9000
lod_thresholds: ["1us", "1ms", "100ms"]
min_view_width: "10us"
verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4317, cfg.OTLPPort)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.True(t, cfg.Verbose)

	table, err := cfg.BuildLodTable()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Levels())
	assert.Equal(t, int64(time.Millisecond), table.Threshold(1))

	floor, err := cfg.MinViewWidthNanos()
	require.NoError(t, err)
	assert.Equal(t, int64(10*time.Microsecond), floor)
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	_, err := LoadConfigFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lod_thresholds: [unclosed"), 0644))
	_, err = LoadConfigFromFile(path)
	assert.Error(t, err)
}

func TestMergeConfigs(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{
		HTTPPort:      9999,
		LodThresholds: []string{"1ms"},
		Verbose:       true,
	}

	merged := MergeConfigs(base, overlay)
	assert.Equal(t, 9999, merged.HTTPPort)
	assert.Equal(t, []string{"1ms"}, merged.LodThresholds)
	assert.True(t, merged.Verbose)
	// Untouched fields keep the base values.
	assert.Equal(t, "127.0.0.1", merged.OTLPHost)
	assert.Equal(t, 1000, merged.WidthPx)

	assert.Equal(t, base, MergeConfigs(base, nil))
	assert.NotNil(t, MergeConfigs(nil, overlay))
}

func TestBuildLodTableValidation(t *testing.T) {
	cfg := &Config{LodThresholds: []string{"not-a-duration"}}
	_, err := cfg.BuildLodTable()
	assert.Error(t, err)

	// Thresholds must be strictly ascending.
	cfg = &Config{LodThresholds: []string{"1ms", "1us"}}
	_, err = cfg.BuildLodTable()
	assert.Error(t, err)

	// Empty falls back to the default ladder.
	cfg = &Config{}
	table, err := cfg.BuildLodTable()
	require.NoError(t, err)
	assert.Equal(t, 5, table.Levels())
}

func TestDurationSettings(t *testing.T) {
	cfg := &Config{}
	floor, err := cfg.MinViewWidthNanos()
	require.NoError(t, err)
	assert.Zero(t, floor)

	interval, err := cfg.RefreshIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, interval)

	cfg = &Config{MinViewWidth: "-5ms"}
	_, err = cfg.MinViewWidthNanos()
	assert.Error(t, err)

	cfg = &Config{RefreshInterval: "soon"}
	_, err = cfg.RefreshIntervalDuration()
	assert.Error(t, err)
}
