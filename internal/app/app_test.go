package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/intake"
)

func testConfig(t *testing.T, driver, dsn string) *common.Config {
	t.Helper()
	dir := t.TempDir()
	return &common.Config{
		Intake:   common.IntakeConfig{MaxFileSizeBytes: 1 << 20, ResultTTL: time.Hour},
		OCR:      common.OCRConfig{Engine: common.EngineExec, DPI: 300, MaxPages: 20, PageTimeout: time.Second, TempDir: dir},
		Worker:   common.WorkerConfig{Workers: 1, JobTimeout: time.Minute, RetryAttempts: 2, RetryBackoff: time.Millisecond, RetryMaxBackoff: time.Millisecond, ReapInterval: time.Minute},
		Queue:    common.QueueConfig{Size: 8, Lease: 2 * time.Minute, PollInterval: 10 * time.Millisecond},
		Database: common.DatabaseConfig{Driver: driver, DSN: dsn, MaxConns: 1, DialTimeout: time.Second},
		Storage:  common.StorageConfig{BaseDir: filepath.Join(dir, "data")},
	}
}

func TestNewWithMemoryDriver(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, common.DriverMemory, ""), common.NewLogger(common.LogConfig{Level: "error"}, io.Discard))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.DB)

	id, err := a.Validator.Submit(context.Background(), intake.Upload{Data: []byte{1, 2}, ContentType: "image/png"})
	require.NoError(t, err)
	_, err = a.Jobs.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestNewWithSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ocr.db")
	a, err := New(context.Background(), testConfig(t, common.DriverSQLite, dsn), common.NewLogger(common.LogConfig{Level: "error"}, io.Discard))
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.DB)
	assert.NotNil(t, a.Pool())
	assert.NotNil(t, a.Reaper())
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(common.OCRConfig{Engine: common.EngineExec}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tesseract-cli", e.Name())

	_, err = NewEngine(common.OCRConfig{Engine: "magic"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
