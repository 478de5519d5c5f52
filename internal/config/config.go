// Package config loads runtime settings for civitas binaries.
//
// Precedence, lowest first: built-in defaults, the optional YAML file,
// variables from .env files, the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CIVITAS_"

type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Tally    TallyConfig    `yaml:"tally"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig is optional; an empty URL disables the distributed tally lock.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TallyConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Rate        float64       `yaml:"rate"`
	Burst       int           `yaml:"burst"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Postgres: PostgresConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Tally: TallyConfig{
			Interval:    time.Minute,
			Concurrency: 4,
			Rate:        20,
			Burst:       4,
			LockTTL:     30 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional) and
// the environment. Missing .env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("PG_DSN", &c.Postgres.DSN)
	num("PG_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)
	num("PG_MAX_IDLE_CONNS", &c.Postgres.MaxIdleConns)
	str("REDIS_URL", &c.Redis.URL)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	dur("TALLY_INTERVAL", &c.Tally.Interval)
	num("TALLY_CONCURRENCY", &c.Tally.Concurrency)
	num("TALLY_BURST", &c.Tally.Burst)
	dur("TALLY_LOCK_TTL", &c.Tally.LockTTL)
	if v, ok := lookup(envPrefix + "TALLY_RATE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTALLY_RATE: %w", envPrefix, err))
		} else {
			c.Tally.Rate = r
		}
	}
	return errors.Join(errs...)
}

// Validate rejects settings the binaries cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Tally.Interval <= 0 {
		errs = append(errs, errors.New("tally.interval must be positive"))
	}
	if c.Tally.Concurrency <= 0 {
		errs = append(errs, errors.New("tally.concurrency must be positive"))
	}
	if c.Tally.Rate < 0 {
		errs = append(errs, errors.New("tally.rate must not be negative"))
	}
	if c.Tally.LockTTL <= 0 {
		errs = append(errs, errors.New("tally.lock_ttl must be positive"))
	}
	if c.Postgres.MaxOpenConns < 0 || c.Postgres.MaxIdleConns < 0 {
		errs = append(errs, errors.New("postgres pool sizes must not be negative"))
	}
	return errors.Join(errs...)
}
