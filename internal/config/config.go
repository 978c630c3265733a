package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"winsbygroup.com/hwidserver/internal/database"
	"winsbygroup.com/hwidserver/internal/signing"
)

// EnvPrefix prefixes every structured environment override. Field names are
// split on word boundaries, e.g. HWID_RESPONSE_NONCE_TTL or
// HWID_BACKUP_S3_BUCKET.
const EnvPrefix = "HWID"

// Config holds all configuration values
type Config struct {
	Addr         string        `yaml:"addr" split_words:"true"`
	// DBDriver is "sqlite3" (default) or "pgx". SQLite takes its write lock
	// when a redemption begins, so concurrent redemptions of different keys
	// queue behind each other. Postgres locks only the key row; use pgx for
	// heavy redemption traffic.
	DBDriver     string        `yaml:"db_driver" split_words:"true"`
	DBPath       string        `yaml:"db_path" split_words:"true"`
	DatabaseURL  string        `yaml:"database_url" split_words:"true"`
	AdminAPIKey  string        `yaml:"admin_api_key" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" split_words:"true"`
	PendingTTL   time.Duration `yaml:"pending_ttl" split_words:"true"`

	Response  ResponseConfig  `yaml:"response" split_words:"true"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	Telegram  TelegramConfig  `yaml:"telegram" split_words:"true"`
	Backup    BackupConfig    `yaml:"backup" split_words:"true"`
	Log       LogConfig       `yaml:"log" split_words:"true"`

	DBPathSource string `yaml:"-" ignored:"true"` // where DBPath was set from: "default", "yaml file", or "env var"
	DemoMode     bool   `yaml:"-" ignored:"true"` // load sample data on new database (set via -demo flag)
}

// ResponseConfig selects how client responses are authenticated.
type ResponseConfig struct {
	Mode           string        `yaml:"mode" split_words:"true"`
	Seal           string        `yaml:"seal" split_words:"true"`
	PrivateKeyPath string        `yaml:"private_key_path" split_words:"true"`
	SealKey        string        `yaml:"seal_key" split_words:"true"`
	NonceTTL       time.Duration `yaml:"nonce_ttl" split_words:"true"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" split_words:"true"`
	Burst int     `yaml:"burst" split_words:"true"`
}

type TelegramConfig struct {
	Token string `yaml:"token" split_words:"true"`
}

type BackupConfig struct {
	Dir         string `yaml:"dir" split_words:"true"`
	S3Bucket    string `yaml:"s3_bucket" split_words:"true"`
	S3Region    string `yaml:"s3_region" split_words:"true"`
	S3Prefix    string `yaml:"s3_prefix" split_words:"true"`
	S3Endpoint  string `yaml:"s3_endpoint" split_words:"true"`
	S3AccessKey string `yaml:"s3_access_key" split_words:"true"`
	S3SecretKey string `yaml:"s3_secret_key" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Load loads configuration from YAML file and overrides with env vars if present
func Load(path string) (*Config, error) {
	// Defaults
	cfg := &Config{
		Addr:         ":8080",
		DBDriver:     database.DriverSQLite,
		DBPath:       "./licenses.db",
		DBPathSource: "default",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		PendingTTL:   5 * time.Minute,
		Response: ResponseConfig{
			Mode: string(signing.ModePlain),
			Seal: signing.CipherSecretbox,
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
		Backup:    BackupConfig{Dir: "./backups", S3Prefix: "hwidserver/"},
		Log:       LogConfig{Level: "info", Format: "json"},
	}

	// Load from YAML if file exists
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		prevDBPath := cfg.DBPath
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, err
		}
		if cfg.DBPath != prevDBPath {
			cfg.DBPathSource = "yaml file"
		}
	}

	// Structured overrides (HWID_*)
	prevDBPath := cfg.DBPath
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	if cfg.DBPath != prevDBPath {
		cfg.DBPathSource = "env var"
	}

	// Conventional unprefixed variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.DBPathSource = "env var"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.AdminAPIKey = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	return cfg, nil
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == database.DriverPostgres {
		return c.DatabaseURL
	}
	return c.DBPath
}

// Validate checks option combinations that Load cannot catch.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case database.DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for sqlite3"))
		}
	case database.DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for pgx"))
		}
	default:
		errs = append(errs, fmt.Errorf("db_driver must be %q or %q", database.DriverSQLite, database.DriverPostgres))
	}

	mode, err := signing.ParseMode(c.Response.Mode)
	if err != nil {
		errs = append(errs, err)
	}
	if mode == signing.ModeSigned || mode == signing.ModeSealed {
		if c.Response.PrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("response.private_key_path is required in %s mode", mode))
		}
	}
	if mode == signing.ModeSealed {
		switch c.Response.Seal {
		case signing.CipherRSAPrivate:
		case signing.CipherSecretbox:
			if c.Response.SealKey == "" {
				errs = append(errs, errors.New("response.seal_key is required for secretbox"))
			}
		default:
			errs = append(errs, fmt.Errorf("response.seal must be %q or %q", signing.CipherRSAPrivate, signing.CipherSecretbox))
		}
	}
	if c.Response.NonceTTL < 0 {
		errs = append(errs, errors.New("response.nonce_ttl must not be negative"))
	}
	if c.Backup.S3Bucket != "" && c.Backup.S3Region == "" {
		errs = append(errs, errors.New("backup.s3_region is required with s3_bucket"))
	}

	return errors.Join(errs...)
}
