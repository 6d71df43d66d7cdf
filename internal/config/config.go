package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config configures the store server.
type Config struct {
	HTTPAddr        string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath          string     `env:"DB_PATH" envDefault:"data/geoquest.db"`
	LogLevel        slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	RedisURL        string     `env:"REDIS_URL"`
	SaveConcurrency int        `env:"SAVE_CONCURRENCY" envDefault:"8"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// Agent configures the client-resident engine process.
type Agent struct {
	Addr             string        `env:"AGENT_ADDR" envDefault:"127.0.0.1:8090"`
	StoreURL         string        `env:"STORE_URL" envDefault:"http://localhost:8080"`
	LogLevel         slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	StateFile        string        `env:"STATE_FILE" envDefault:"data/agent-state.yaml"`
	GeofenceInterval time.Duration `env:"GEOFENCE_INTERVAL" envDefault:"2s"`
	FeedGrace        time.Duration `env:"FEED_GRACE" envDefault:"7s"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"20s"`
	TemplateChunk    int           `env:"TEMPLATE_CHUNK" envDefault:"50"`
	ListChunk        int           `env:"LIST_CHUNK" envDefault:"20"`
	GameChunk        int           `env:"GAME_CHUNK" envDefault:"5"`
	PatchUser        string        `env:"PATCH_USER"`
	MaxAccuracy      float64       `env:"MAX_ACCURACY" envDefault:"100"`
}

func LoadAgent() (*Agent, error) {
	cfg, err := env.ParseAs[Agent]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.GeofenceInterval <= 0 || cfg.FeedGrace <= 0 || cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}
	return &cfg, nil
}
