package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPListenAddr)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 200, cfg.LogLimit)
	assert.Equal(t, 20*time.Second, cfg.IngestTimeout)
	assert.Equal(t, 1600, cfg.ImageMaxEdge)
	assert.Equal(t, 600, cfg.ThumbMaxEdge)
	assert.Equal(t, 85, cfg.ImageQuality)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("INGEST_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPListenAddr)
	assert.Equal(t, "s3cret", cfg.AdminToken)
	assert.Equal(t, 5*time.Second, cfg.IngestTimeout)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("LOG_LIMIT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
