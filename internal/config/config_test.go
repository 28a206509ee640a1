package config_test

import (
	"parley/backend/internal/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "host=localhost dbname=parley")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 2*time.Second, cfg.SessionSendTimeout)
	assert.Equal(t, "parley:fanout", cfg.RedisChannel)
	assert.True(t, cfg.ServerSideFanout)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("JWT_SECRET", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := config.Config{JWTSecret: "s", SessionSendTimeout: time.Second, SearchLimit: 10}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *config.Config) {}},
		{name: "empty secret", mutate: func(c *config.Config) { c.JWTSecret = "" }, wantErr: true},
		{name: "zero send timeout", mutate: func(c *config.Config) { c.SessionSendTimeout = 0 }, wantErr: true},
		{name: "zero search limit", mutate: func(c *config.Config) { c.SearchLimit = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTypingIdleWindow(t *testing.T) {
	assert.Equal(t, 5*time.Second, config.TypingIdleWindow)
	assert.Less(t, config.PingPeriod, config.PongWait)
}
