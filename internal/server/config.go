// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat relay.
package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Port                    string        `env:"SERVER_PORT,default=:8080" validate:"required"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE,default=4096" validate:"gt=0"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5" validate:"gt=0"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s" validate:"gt=0"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256" validate:"gt=0"`
	JWTSecret               string        `env:"JWT_SECRET,required=true" validate:"required,min=16"`
	BadgerFilepath          string        `env:"BADGER_FILEPATH,default=./data/messages" validate:"required"`
	HistoryLimit            int           `env:"HISTORY_LIMIT,default=50" validate:"gte=0"`
	PersistTimeout          time.Duration `env:"PERSIST_TIMEOUT,default=5s" validate:"gt=0"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	LogLevel                string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

var validate = validator.New()

// NewConfig creates a Config instance populated with default values for all
// settings. JWTSecret has no default and must be supplied by the caller.
func NewConfig() *Config {
	return &Config{
		Port:                    ":8080",
		AllowedOrigins:          "http://localhost:8080",
		MaxMessageSize:          4096,
		RateLimitBurst:          5,
		RateLimitRefillInterval: time.Second,
		SendBufferSize:          256,
		BadgerFilepath:          "./data/messages",
		HistoryLimit:            50,
		PersistTimeout:          5 * time.Second,
		ShutdownTimeout:         10 * time.Second,
		LogLevel:                "info",
	}
}

// LoadConfig reads the configuration from the process environment and
// validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Origins returns the configured origin list split on commas.
func (c *Config) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
