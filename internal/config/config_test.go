package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.InDelta(t, 1.0, cfg.Trust.Weights.Integrity+cfg.Trust.Weights.Seller+
		cfg.Trust.Weights.Tag+cfg.Trust.Weights.Reviews, 1e-9, "weights must sum to one")
	assert.Equal(t, 20.0, cfg.Trust.IntegrityPenalty)
	assert.Equal(t, 2*time.Minute, cfg.Trust.StaleTTL)
	assert.Equal(t, 70.0, cfg.Reviews.GenuineThreshold)
	assert.Equal(t, 40.0, cfg.Reviews.SuspiciousThreshold)
	assert.Equal(t, 40.0, cfg.Graph.GreyMarketPenalty)
	assert.Equal(t, 50.0, cfg.Graph.DuplicateTagPenalty)
	assert.Equal(t, 70.0, cfg.Alerts.GraphCriticalThreshold)
	assert.Equal(t, 90.0, cfg.Alerts.GraphSevereThreshold)
	assert.Equal(t, 70.0, cfg.Scan.GenuineThreshold)
	assert.Equal(t, 40.0, cfg.Scan.SuspectThreshold)
	assert.Equal(t, 256, cfg.Hub.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Sellers.StrikeWindow)
	assert.Equal(t, 3, cfg.Sellers.StrikeLimit)
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlayOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: "9090"
trust:
  integrity_penalty: 10
sellers:
  strike_limit: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Trust.IntegrityPenalty)
	assert.Equal(t, 5, cfg.Sellers.StrikeLimit)

	// Everything the file does not mention keeps the default.
	assert.Equal(t, 0.35, cfg.Trust.Weights.Integrity)
	assert.Equal(t, 256, cfg.Hub.QueueSize)
	assert.Equal(t, 3*time.Second, cfg.Oracle.Timeout)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
