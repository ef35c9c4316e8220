package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(10<<20), cfg.Intake.MaxFileSizeBytes)
	assert.Equal(t, 24*time.Hour, cfg.Intake.ResultTTL)
	assert.Equal(t, 20, cfg.OCR.MaxPages)
	assert.Equal(t, 10*time.Second, cfg.OCR.PageTimeout)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, EngineExec, cfg.OCR.Engine)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	body := "MAX_FILE_SIZE_MB=2\nOCR_TIMEOUT_PER_PAGE=3\nRESULT_TTL=90m\nMAX_PDF_PAGES=5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		for _, k := range []string{"MAX_FILE_SIZE_MB", "OCR_TIMEOUT_PER_PAGE", "RESULT_TTL"} {
			_ = os.Unsetenv(k)
		}
	})
	// explicit environment wins over the file
	t.Setenv("MAX_PDF_PAGES", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(2<<20), cfg.Intake.MaxFileSizeBytes)
	assert.Equal(t, 3*time.Second, cfg.OCR.PageTimeout)
	assert.Equal(t, 90*time.Minute, cfg.Intake.ResultTTL)
	assert.Equal(t, 7, cfg.OCR.MaxPages)
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Database.Driver = DriverSQLite }, wantErr: "DB_URL"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "redis"; c.Database.DSN = "x" }, wantErr: "STORE_DRIVER"},
		{name: "lease below job timeout", mutate: func(c *Config) { c.Queue.Lease = time.Minute }, wantErr: "QUEUE_LEASE"},
		{name: "zero page timeout", mutate: func(c *Config) { c.OCR.PageTimeout = 0 }, wantErr: "OCR_TIMEOUT_PER_PAGE"},
		{name: "bad engine", mutate: func(c *Config) { c.OCR.Engine = "cloud" }, wantErr: "OCR_ENGINE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
