package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PUBLIC_URL", "https://agency.example/")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "https://agency.example", cfg.PublicURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsShortSessionTTL(t *testing.T) {
	t.Setenv("SESSION_TTL", "5s")
	_, err := LoadConfig()
	assert.Error(t, err)
}
