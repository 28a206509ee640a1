// Package config holds the runtime configuration and the protocol constants shared by the server.
package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	// Typing
	TypingIdleWindow = 5000 * time.Millisecond

	// WebSocket
	WriteWait         = 10 * time.Second
	PongWait          = 60 * time.Second
	PingPeriod        = (PongWait * 9) / 10
	MaxFrameSize      = 64 * 1024
	SessionBufferSize = 256

	// Chats
	MinGroupPeers = 2
)

// Config is filled from the process environment (optionally seeded by a .env file).
type Config struct {
	HTTPAddr           string        `env:"HTTP_ADDR,default=:8080"`
	DatabaseDSN        string        `env:"DATABASE_DSN,required=true"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB,default=0"`
	RedisChannel       string        `env:"REDIS_CHANNEL,default=parley:fanout"`
	JWTSecret          string        `env:"JWT_SECRET,required=true"`
	TokenTTL           time.Duration `env:"TOKEN_TTL,default=24h"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO"`
	AppEnv             string        `env:"APP_ENV,default=development"`
	SessionSendTimeout time.Duration `env:"SESSION_SEND_TIMEOUT,default=2s"`
	ServerSideFanout   bool          `env:"SERVER_SIDE_FANOUT,default=true"`
	SearchLimit        int           `env:"SEARCH_LIMIT,default=20"`
}

// Load reads .env if present and then the environment.
func Load() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.SessionSendTimeout <= 0 {
		return fmt.Errorf("SESSION_SEND_TIMEOUT must be positive, got %s", c.SessionSendTimeout)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("SEARCH_LIMIT must be positive, got %d", c.SearchLimit)
	}
	return nil
}

// IsProduction reports whether diagnostic error detail must be hidden.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
