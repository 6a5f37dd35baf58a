package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goerrors "github.com/pixil98/go-errors"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	FabricMemory = "memory"
	FabricNats   = "nats"
)

// Config holds the process settings read from the environment.
type Config struct {
	HTTPAddr      string
	AllowedOrigin string
	JWTSecret     string

	StoreDriver string
	DatabaseURL string
	SeedFile    string

	ValkeyAddr     string
	ValkeyPassword string
	ValkeyTTL      time.Duration

	Fabric           string
	NatsHost         string
	NatsPort         int
	NatsStartTimeout time.Duration

	LoadTimeout  time.Duration
	FlushOnEvict bool
	FlushTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads a .env file from the working directory if one exists, then
// builds a Config from the environment. Every malformed value is reported.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	el := goerrors.NewErrorList()
	p := parser{add: el.Add}

	c := &Config{
		HTTPAddr:      p.str("HTTP_ADDR", ":8080"),
		AllowedOrigin: p.str("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		JWTSecret:     p.str("JWT_SECRET", ""),

		StoreDriver: strings.ToLower(p.str("STORE_DRIVER", StoreMemory)),
		DatabaseURL: p.str("DATABASE_URL", ""),
		SeedFile:    p.str("SEED_FILE", ""),

		ValkeyAddr:     p.str("VALKEY_ADDR", ""),
		ValkeyPassword: p.str("VALKEY_PASSWORD", ""),
		ValkeyTTL:      p.duration("VALKEY_TTL", 5*time.Minute),

		Fabric:           strings.ToLower(p.str("FABRIC", FabricMemory)),
		NatsHost:         p.str("NATS_HOST", "127.0.0.1"),
		NatsPort:         p.integer("NATS_PORT", -1),
		NatsStartTimeout: p.duration("NATS_START_TIMEOUT", 10*time.Second),

		LoadTimeout:  p.duration("LOAD_TIMEOUT", 10*time.Second),
		FlushOnEvict: p.boolean("FLUSH_ON_EVICT", true),
		FlushTimeout: p.duration("FLUSH_TIMEOUT", 5*time.Second),

		LogLevel:  strings.ToLower(p.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(p.str("LOG_FORMAT", "text")),
	}

	el.Add(c.Validate())
	if err := el.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	el := goerrors.NewErrorList()

	if c.HTTPAddr == "" {
		el.Add(fmt.Errorf("HTTP_ADDR is required"))
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			el.Add(fmt.Errorf("DATABASE_URL is required for the postgres store"))
		}
	default:
		el.Add(fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Fabric {
	case FabricMemory, FabricNats:
	default:
		el.Add(fmt.Errorf("unknown FABRIC %q", c.Fabric))
	}

	if c.ValkeyAddr != "" && c.ValkeyTTL < time.Second {
		el.Add(fmt.Errorf("VALKEY_TTL must be at least 1 second"))
	}
	if c.LoadTimeout <= 0 {
		el.Add(fmt.Errorf("LOAD_TIMEOUT must be positive"))
	}
	if c.FlushTimeout <= 0 {
		el.Add(fmt.Errorf("FLUSH_TIMEOUT must be positive"))
	}

	if _, err := c.SlogLevel(); err != nil {
		el.Add(err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		el.Add(fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	return el.Err()
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("parsing LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// parser reads typed environment values, collecting parse failures.
type parser struct {
	add func(error)
}

func (p parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.add(fmt.Errorf("parsing %s: %w", key, err))
		return def
	}
	return d
}

func (p parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.add(fmt.Errorf("parsing %s: %w", key, err))
		return def
	}
	return n
}

func (p parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.add(fmt.Errorf("parsing %s: %w", key, err))
		return def
	}
	return b
}
