package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/database"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
)

const EnvPrefix = "PARTY"

const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
)

type Config struct {
	Bind           string
	Port           int
	DBDriver       string
	DBDSN          string
	StoreBackend   string
	StoreFallback  bool
	RedisAddr      string
	StateTTL       time.Duration
	RoomTTL        time.Duration
	SweepInterval  time.Duration
	StrictVersions bool
	DefaultGame    string
	LogLevel       string
	LogFormat      string
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.DBDriver {
	case database.DriverPostgres, database.DriverSqlite:
	default:
		return fmt.Errorf("invalid --db-driver %q (postgres or sqlite)", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("--db-dsn must be set")
	}
	switch c.StoreBackend {
	case StoreMemory, StoreSQL:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required with the redis store")
		}
	default:
		return fmt.Errorf("invalid --store %q (memory, sql or redis)", c.StoreBackend)
	}
	if c.StoreFallback && c.StoreBackend != StoreRedis {
		return errors.New("--store-fallback only applies to the redis store")
	}
	if c.RoomTTL < 0 || c.StateTTL < 0 {
		return errors.New("ttl values must not be negative")
	}
	if c.SweepInterval <= 0 {
		return errors.New("--sweep-interval must be positive")
	}
	switch engine.GameType(c.DefaultGame) {
	case engine.GameBoard, engine.GameTrio, engine.GameSwipe:
	default:
		return fmt.Errorf("invalid --default-game %q", c.DefaultGame)
	}
	return nil
}

// RegisterFlags adds the server flags to fs, with defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: PARTY_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: PARTY_PORT)")
	fs.StringVar(&c.DBDriver, "db-driver", database.DriverSqlite, "directory database: postgres or sqlite (env: PARTY_DB_DRIVER)")
	fs.StringVar(&c.DBDSN, "db-dsn", "file:party.db?_foreign_keys=on", "database connection string (env: PARTY_DB_DSN)")
	fs.StringVar(&c.StoreBackend, "store", StoreSQL, "session state store: memory, sql or redis (env: PARTY_STORE)")
	fs.BoolVar(&c.StoreFallback, "store-fallback", false, "mirror redis writes to the sql store and read from it when redis fails (env: PARTY_STORE_FALLBACK)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis address for the redis store (env: PARTY_REDIS_ADDR)")
	fs.DurationVar(&c.StateTTL, "state-ttl", 24*time.Hour, "expiry of session documents in redis, 0 keeps them (env: PARTY_STATE_TTL)")
	fs.DurationVar(&c.RoomTTL, "room-ttl", 12*time.Hour, "default lifetime of new rooms, 0 never expires (env: PARTY_ROOM_TTL)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", 5*time.Minute, "how often expired rooms are removed (env: PARTY_SWEEP_INTERVAL)")
	fs.BoolVar(&c.StrictVersions, "strict-versions", false, "reject pushes based on an outdated version with 409 (env: PARTY_STRICT_VERSIONS)")
	fs.StringVar(&c.DefaultGame, "default-game", string(engine.GameBoard), "engine used when a document names none: board, trio or swipe (env: PARTY_DEFAULT_GAME)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: PARTY_LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", "json", "json or console (env: PARTY_LOG_FORMAT)")
}

// Bind fills every flag the user did not set from the environment, after
// loading envFile if it exists.
func Bind(fs *pflag.FlagSet, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errors.Join(errs...)
}
