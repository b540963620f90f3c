package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("Earth Engine settings", func(t *testing.T) {
		t.Setenv("EE_PROJECT", "ee-env")
		t.Setenv("EE_ENDPOINT", "http://localhost:9999")
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/tmp/sa.json")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "ee-env", cfg.EarthEngine.Project)
		assert.Equal(t, "http://localhost:9999", cfg.EarthEngine.Endpoint)
		assert.Equal(t, "/tmp/sa.json", cfg.EarthEngine.CredentialsFile)
	})

	t.Run("Paths and staging", func(t *testing.T) {
		t.Setenv("LEAFPREP_ASSET_ROOT", "projects/ee-env/assets")
		t.Setenv("LEAFPREP_STAGING_BUCKET", "bucket")
		t.Setenv("LEAFPREP_LEDGER", "/tmp/ledger.db")
		t.Setenv("LEAFPREP_DATA_DIR", "/tmp/data")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "projects/ee-env/assets", cfg.Assets.Root)
		assert.Equal(t, "bucket", cfg.Staging.Bucket)
		assert.Equal(t, "/tmp/ledger.db", cfg.Data.LedgerPath)
		assert.Equal(t, "/tmp/data", cfg.Data.DownloadDir)
	})

	t.Run("Empty variables do not clobber file values", func(t *testing.T) {
		t.Setenv("EE_PROJECT", "")

		cfg := &Config{EarthEngine: EarthEngineConfig{Project: "from-file"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "from-file", cfg.EarthEngine.Project)
	})
}

func TestLoad_DotEnv(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("EE_PROJECT=ee-dotenv\n"), 0644))

	// godotenv sets process env; make sure it is restored afterwards.
	t.Setenv("EE_PROJECT", "")
	require.NoError(t, os.Unsetenv("EE_PROJECT"))

	cfg, err := Load(filepath.Join(root, ".leafprep", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ee-dotenv", cfg.EarthEngine.Project)
}
