// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/parascan/repocore/pkg/credcipher"
)

const (
	defaultListenAddr      = ":8080"
	defaultMaxCloneWorkers = 4
)

// Config holds everything the process reads from its environment. The
// master key is validated at load time: a missing or malformed key is a
// startup error, never a runtime one.
type Config struct {
	MasterKeyHex string // 64 hex chars, the AES-256 master key.

	PGHost     string
	PGPort     string
	PGName     string
	PGUser     string
	PGPassword string

	ListenAddr      string // HTTP listen address for serve mode.
	CloneRoot       string // parent dir for clone workspaces; empty means os.TempDir.
	MaxCloneWorkers int64  // concurrent clone slots.
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present; real environment
// variables win over it.
func Load() (Config, error) {
	// Best effort: absence of the file is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		MasterKeyHex:    os.Getenv("MASTER_ENCRYPTION_KEY"),
		PGHost:          os.Getenv("PG_HOST"),
		PGPort:          envOr("PG_PORT", "5432"),
		PGName:          os.Getenv("PG_NAME"),
		PGUser:          os.Getenv("PG_USER"),
		PGPassword:      os.Getenv("PG_PASSWORD"),
		ListenAddr:      envOr("LISTEN_ADDR", defaultListenAddr),
		CloneRoot:       os.Getenv("CLONE_ROOT"),
		MaxCloneWorkers: defaultMaxCloneWorkers,
	}

	if raw := os.Getenv("MAX_CLONE_WORKERS"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.Errorf("MAX_CLONE_WORKERS must be a positive integer, got %q", raw)
		}
		cfg.MaxCloneWorkers = n
	}

	if _, err := credcipher.NewKeychain(cfg.MasterKeyHex); err != nil {
		return Config{}, errors.Wrap(err, "MASTER_ENCRYPTION_KEY")
	}
	return cfg, nil
}

// PostgresDSN renders the lib/pq connection string. Callers must not log
// the result, it carries the database password.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGName, c.PGUser, c.PGPassword)
}

// HasDatabase reports whether enough Postgres settings are present to
// attempt a connection.
func (c Config) HasDatabase() bool {
	return c.PGHost != "" && c.PGName != "" && c.PGUser != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
