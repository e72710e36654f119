// Package config loads estate settings from estate.yaml, ESTATE_* environment
// variables and a local .env file.
//
// Precedence, highest first: explicit flag bindings, environment, config
// file, defaults. The legacy DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD
// variables still produce a Postgres DSN when db.dsn is unset.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, so db.dsn is read
// from ESTATE_DB_DSN.
const EnvPrefix = "ESTATE"

// Config is the resolved configuration.
type Config struct {
	Data   DataConfig   `mapstructure:"data" yaml:"data"`
	DB     DBConfig     `mapstructure:"db" yaml:"db"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type DataConfig struct {
	JSONPath  string `mapstructure:"json_path" yaml:"json_path"`
	CSVDir    string `mapstructure:"csv_dir" yaml:"csv_dir"`
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	// BackupRetention, when positive, lets serve prune older snapshots daily.
	BackupRetention time.Duration `mapstructure:"backup_retention" yaml:"backup_retention"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	File      string `mapstructure:"file" yaml:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type SyncConfig struct {
	Authoritative string `mapstructure:"authoritative" yaml:"authoritative"`
	// Schedule is a cron expression for periodic full syncs under serve.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LegacyDB mirrors the connection variables older deployments keep in .env.
type LegacyDB struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME" envDefault:"adminestate"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN renders the settings as a Postgres URL.
func (l LegacyDB) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(l.User, l.Password),
		Host:     net.JoinHostPort(l.Host, strconv.Itoa(l.Port)),
		Path:     "/" + l.Name,
		RawQuery: url.Values{"sslmode": {l.SSLMode}}.Encode(),
	}
	if l.Password == "" {
		u.User = url.User(l.User)
	}
	return u.String()
}

// Defaults registers every key with its default value. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func Defaults(v *viper.Viper) {
	v.SetDefault("data.json_path", filepath.Join("data", "data.json"))
	v.SetDefault("data.csv_dir", "data")
	v.SetDefault("data.backup_dir", filepath.Join("data", "backups"))
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("server.port", 5000)
	v.SetDefault("sync.authoritative", "")
	v.SetDefault("sync.schedule", "")
	v.SetDefault("data.backup_retention", time.Duration(0))
	v.SetDefault("watch.debounce", 2*time.Second)
}

// New returns a viper instance wired for estate: defaults, ESTATE_* env
// overrides and the config file search path. path, when set, names the
// config file explicitly.
func New(path string) *viper.Viper {
	v := viper.New()
	Defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	v.SetConfigName("estate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "estate"))
	}
	return v
}

// Load reads .env (if present) and the config file, then resolves the
// configuration held by v.
//
// Example:
//
//	v := config.New("")
//	cfg, err := config.Load(v)
//	if err != nil {
//	    return err
//	}
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve() error {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	switch c.DB.Driver {
	case "sqlite", "sqlite3":
		c.DB.Driver = "sqlite"
		if c.DB.DSN == "" {
			c.DB.DSN = filepath.Join(filepath.Dir(c.Data.JSONPath), "estate.db")
		}
	case "postgres", "postgresql", "pgx":
		c.DB.Driver = "postgres"
		if c.DB.DSN == "" {
			var legacy LegacyDB
			if err := env.Parse(&legacy); err != nil {
				return fmt.Errorf("failed to read DB_* settings: %w", err)
			}
			c.DB.DSN = legacy.DSN()
		}
	default:
		return fmt.Errorf("unknown db.driver %q (want sqlite or postgres)", c.DB.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "text":
		c.Log.Format = "console"
	case "json":
		c.Log.Format = "json"
	default:
		return fmt.Errorf("unknown log.format %q (want console or json)", c.Log.Format)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.Data.BackupRetention < 0 {
		return fmt.Errorf("data.backup_retention must not be negative")
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid sync.schedule %q: %w", c.Sync.Schedule, err)
		}
	}
	return nil
}
