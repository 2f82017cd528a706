package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artvault/internal/naming"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "data", cfg.BaseDir)
	assert.Equal(t, "RJC", cfg.SKUPrefix)
	assert.Equal(t, 5, cfg.SKUDigits)
	assert.Equal(t, filepath.Join("data", "settings", "sku_tracker.json"), cfg.SKUTrackerPath)
	assert.Equal(t, 95, cfg.JPEGQuality)
	assert.Equal(t, 2000, cfg.ThumbLongEdge)
	assert.Equal(t, 3800, cfg.AnalyseLongEdge)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server_addr: \":9000\"\nbase_dir: /srv/art\nsku_prefix: ABC\njpeg_quality: 80\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("ARTVAULT_SKU_PREFIX", "ENV")
	t.Setenv("ARTVAULT_TOKEN_TTL", "30m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, "ENV", cfg.SKUPrefix, "env overrides yaml")
	assert.Equal(t, 80, cfg.JPEGQuality)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, filepath.Join("/srv/art", "settings", "artwork-master-listing.json"), cfg.RegistryPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: [unclosed\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("operator_password_hash: abc\n"), 0644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestLoadConfig_RejectsBadSKUPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	for _, prefix := range []string{"art", "RJ-C", "9AB"} {
		require.NoError(t, os.WriteFile(path, []byte("sku_prefix: \""+prefix+"\"\n"), 0644))
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, naming.ErrInvalidPrefix, prefix)
	}

	t.Setenv("ARTVAULT_SKU_PREFIX", "lower")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, naming.ErrInvalidPrefix)
}
