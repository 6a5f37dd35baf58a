package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
)

var keys = []string{
	"HTTP_ADDR", "ALLOWED_ORIGIN", "JWT_SECRET", "STORE_DRIVER", "DATABASE_URL",
	"SEED_FILE", "VALKEY_ADDR", "VALKEY_PASSWORD", "VALKEY_TTL", "FABRIC",
	"NATS_HOST", "NATS_PORT", "NATS_START_TIMEOUT", "LOAD_TIMEOUT",
	"FLUSH_ON_EVICT", "FLUSH_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every key so values from the outer environment do not leak
// into a test. Blank values fall back to defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "config", cfg, &Config{
		HTTPAddr:         ":8080",
		AllowedOrigin:    "http://127.0.0.1:5173",
		StoreDriver:      StoreMemory,
		ValkeyTTL:        5 * time.Minute,
		Fabric:           FabricMemory,
		NatsHost:         "127.0.0.1",
		NatsPort:         -1,
		NatsStartTimeout: 10 * time.Second,
		LoadTimeout:      10 * time.Second,
		FlushOnEvict:     true,
		FlushTimeout:     5 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	})
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/scenyx?sslmode=disable")
	t.Setenv("VALKEY_ADDR", "127.0.0.1:6379")
	t.Setenv("VALKEY_TTL", "30s")
	t.Setenv("FABRIC", "nats")
	t.Setenv("NATS_PORT", "4222")
	t.Setenv("LOAD_TIMEOUT", "2s")
	t.Setenv("FLUSH_ON_EVICT", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "addr", cfg.HTTPAddr, ":9090")
	testutil.AssertEqual(t, "store", cfg.StoreDriver, StorePostgres)
	testutil.AssertEqual(t, "valkey ttl", cfg.ValkeyTTL, 30*time.Second)
	testutil.AssertEqual(t, "fabric", cfg.Fabric, FabricNats)
	testutil.AssertEqual(t, "nats port", cfg.NatsPort, 4222)
	testutil.AssertEqual(t, "load timeout", cfg.LoadTimeout, 2*time.Second)
	testutil.AssertEqual(t, "flush on evict", cfg.FlushOnEvict, false)

	lvl, err := cfg.SlogLevel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "level", lvl, slog.LevelDebug)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]struct {
		env     map[string]string
		expErrs []string
	}{
		"bad duration": {
			env:     map[string]string{"LOAD_TIMEOUT": "soon"},
			expErrs: []string{"parsing LOAD_TIMEOUT"},
		},
		"postgres without dsn": {
			env:     map[string]string{"STORE_DRIVER": "postgres"},
			expErrs: []string{"DATABASE_URL is required"},
		},
		"unknown drivers": {
			env:     map[string]string{"STORE_DRIVER": "mongo", "FABRIC": "kafka"},
			expErrs: []string{`unknown STORE_DRIVER "mongo"`, `unknown FABRIC "kafka"`},
		},
		"bad numbers and flags": {
			env:     map[string]string{"NATS_PORT": "high", "FLUSH_ON_EVICT": "maybe"},
			expErrs: []string{"parsing NATS_PORT", "parsing FLUSH_ON_EVICT"},
		},
		"bad logging": {
			env:     map[string]string{"LOG_LEVEL": "loud", "LOG_FORMAT": "xml"},
			expErrs: []string{"parsing LOG_LEVEL", `unknown LOG_FORMAT "xml"`},
		},
		"non-positive timeout": {
			env:     map[string]string{"FLUSH_TIMEOUT": "0s"},
			expErrs: []string{"FLUSH_TIMEOUT must be positive"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			if err == nil {
				t.Fatalf("expected errors %v, got nil", tt.expErrs)
			}
			for _, exp := range tt.expErrs {
				if !strings.Contains(err.Error(), exp) {
					t.Errorf("expected error containing %q, got %q", exp, err.Error())
				}
			}
		})
	}
}
