package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/config"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

func bufferLogger(buf *bytes.Buffer) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Output = buf
	return log.New(cfg)
}

func TestSetupLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := SetupLogger(log.ComponentRecurring)
	require.NotNil(t, logger)
	assert.Equal(t, log.ComponentRecurring, logger.Component())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEUBOLSO_TEST_KEY=abc\nMEUBOLSO_TEST_SET=file\n"), 0o600))

	t.Setenv("MEUBOLSO_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("MEUBOLSO_TEST_KEY"))
	t.Setenv("MEUBOLSO_TEST_SET", "env")

	LoadEnvFile(path)
	assert.Equal(t, "abc", os.Getenv("MEUBOLSO_TEST_KEY"))
	assert.Equal(t, "env", os.Getenv("MEUBOLSO_TEST_SET"))

	// Missing files are not fatal.
	LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
}

func TestClock(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)

	c := Clock(logger, &config.Config{Timezone: "America/Sao_Paulo"})
	sc, ok := c.(core.SystemClock)
	require.True(t, ok)
	assert.Equal(t, "America/Sao_Paulo", sc.Location.String())

	c = Clock(logger, &config.Config{Timezone: "Mars/Olympus"})
	assert.Equal(t, time.UTC, c.(core.SystemClock).Location)
	assert.Contains(t, buf.String(), "falling back to UTC")
}

func TestShutdownOnRunsCleanup(t *testing.T) {
	var buf bytes.Buffer
	sig := make(chan os.Signal, 1)
	cleaned := make(chan struct{})

	ctx, done := shutdownOn(sig, bufferLogger(&buf), time.Second, func(ctx context.Context) {
		close(cleaned)
	})

	sig <- syscall.SIGTERM
	WaitForShutdown(ctx, done)

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	select {
	case <-cleaned:
	default:
		t.Fatal("cleanup did not run")
	}
	assert.Contains(t, buf.String(), "Shutdown complete")
}

func TestShutdownOnTimeout(t *testing.T) {
	var buf bytes.Buffer
	sig := make(chan os.Signal, 1)
	release := make(chan struct{})
	defer close(release)

	ctx, done := shutdownOn(sig, bufferLogger(&buf), 20*time.Millisecond, func(ctx context.Context) {
		<-release
	})

	sig <- syscall.SIGINT
	WaitForShutdown(ctx, done)
	assert.Contains(t, buf.String(), "Shutdown timeout reached")
}
