package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ProviderHeap, cfg.Provider)
	assert.Zero(t, cfg.AllocLimit)
	assert.True(t, cfg.FastCache.Enabled)
	assert.False(t, cfg.FastCache.Locked)
	assert.Equal(t, 1, cfg.MaintenanceEvery)
	assert.True(t, cfg.Diagnostics.DumpCache)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safetynet.yaml")
	body := `
provider: mmap
alloc_limit: 4096
fast_cache:
  enabled: false
free_on_close: true
maintenance_every: 8
diagnostics:
  dump_registry: false
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderMmap, cfg.Provider)
	assert.Equal(t, uint64(4096), cfg.AllocLimit)
	assert.False(t, cfg.FastCache.Enabled)
	assert.True(t, cfg.FreeOnClose)
	assert.Equal(t, 8, cfg.MaintenanceEvery)
	assert.True(t, cfg.Diagnostics.DumpCache, "unset keys keep defaults")
	assert.False(t, cfg.Diagnostics.DumpRegistry)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("alloc_limit: [1"), 0o644))
	_, err = Load(bad)
	require.ErrorContains(t, err, "parse")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("provider: tcmalloc"), 0o644))
	_, err = Load(unknown)
	require.ErrorContains(t, err, "unknown provider")
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"SN_PROVIDER":          "mmap",
		"SN_ALLOC_LIMIT":       "1024",
		"SN_FAST_CACHE":        "false",
		"SN_CACHE_LOCK":        "1",
		"SN_FREE_ON_CLOSE":     "true",
		"SN_MAINTENANCE_EVERY": "3",
		"SN_DUMP_CACHE":        "0",
		"SN_DUMP_REGISTRY":     "false",
		"SN_LOG_LEVEL":         "warn",
	}
	cfg, err := fromLookup(Default(), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderMmap, cfg.Provider)
	assert.Equal(t, uint64(1024), cfg.AllocLimit)
	assert.False(t, cfg.FastCache.Enabled)
	assert.True(t, cfg.FastCache.Locked)
	assert.True(t, cfg.FreeOnClose)
	assert.Equal(t, 3, cfg.MaintenanceEvery)
	assert.False(t, cfg.Diagnostics.DumpCache)
	assert.False(t, cfg.Diagnostics.DumpRegistry)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("SN_ALLOC_LIMIT", "lots")
	t.Setenv("SN_FAST_CACHE", "maybe")

	_, err := FromEnv(Default())
	require.Error(t, err)
	assert.ErrorContains(t, err, "SN_ALLOC_LIMIT")
	assert.ErrorContains(t, err, "SN_FAST_CACHE")
}

func TestFromEnv_Unset(t *testing.T) {
	cfg, err := fromLookup(Default(), func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
