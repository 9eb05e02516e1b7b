package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdfstudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
  providerTimeout: 3s
payment:
  bridgeURL: https://bridge.example
ocr:
  language: deu
  workers: 3
entitlement:
  dir: /tmp/state
log:
  level: debug
`)
	t.Setenv("PORT", "")
	t.Setenv("PDFSTUDIO_OCR_WORKERS", "4")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ProviderTimeout)
	assert.Equal(t, "https://bridge.example", cfg.Payment.BridgeURL)
	assert.Equal(t, "deu", cfg.OCR.Language)
	assert.Equal(t, 4, cfg.OCR.Workers)
	assert.Equal(t, "sk_test_1", cfg.Payment.StripeSecretKey)
	assert.Equal(t, "/tmp/state", cfg.Entitlement.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched defaults survive a partial file
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.True(t, cfg.OCR.Grayscale)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 1.2, cfg.OCR.Preprocess().Contrast)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "ocr:\n  language: xx\n  workers: 9\nlog:\n  format: xml\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.language")
	assert.Contains(t, err.Error(), "ocr.workers")
	assert.Contains(t, err.Error(), "log.format")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL_VAR", "invalid")
	assert.True(t, getEnvBool("TEST_BOOL_VAR", true))
	t.Setenv("TEST_INT_VAR", "123")
	assert.Equal(t, 123, getEnvInt("TEST_INT_VAR", 0))
	t.Setenv("TEST_DURATION_VAR", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION_VAR", 0))
	assert.Equal(t, "default", getEnv("NON_EXISTENT_PDFSTUDIO_VAR", "default"))
}

func TestTracingConfig(t *testing.T) {
	tc := TelemetryConfig{Tracing: true, Endpoint: "otel:4317", Protocol: "grpc"}.TracingConfig()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "otel:4317", tc.Endpoint)
}
