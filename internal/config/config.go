package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "OVERLAY"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "overlay.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
	maxBatchSize        = 1000
)

// AppConfig captures runtime configuration for the CLI and HTTP server.
type AppConfig struct {
	CompileInput    string
	CompileOutput   string
	OutboxVariant   compiler.OutboxVariant
	JoinTablePrefix string
	HTTPAddress     string
	DatabaseURL     string
	DatabasePath    string
	PollInterval    time.Duration
	BatchSize       int
	Consumer        string
	LogLevel        string
	LogFormat       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("compile.input", "-")
	configViper.SetDefault("compile.output", "-")
	configViper.SetDefault("compile.outbox_variant", string(compiler.OutboxWithTableName))
	configViper.SetDefault("compile.join_table_prefix", compiler.DefaultJoinTablePrefix)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.url", "")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("outbox.poll_interval", defaultPollInterval)
	configViper.SetDefault("outbox.batch_size", defaultBatchSize)
	configViper.SetDefault("outbox.consumer", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	variant, err := compiler.ParseOutboxVariant(configViper.GetString("compile.outbox_variant"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("compile.outbox_variant: %w", err)
	}

	cfg := AppConfig{
		CompileInput:    configViper.GetString("compile.input"),
		CompileOutput:   configViper.GetString("compile.output"),
		OutboxVariant:   variant,
		JoinTablePrefix: configViper.GetString("compile.join_table_prefix"),
		HTTPAddress:     configViper.GetString("http.address"),
		DatabaseURL:     strings.TrimSpace(configViper.GetString("database.url")),
		DatabasePath:    strings.TrimSpace(configViper.GetString("database.path")),
		PollInterval:    configViper.GetDuration("outbox.poll_interval"),
		BatchSize:       configViper.GetInt("outbox.batch_size"),
		Consumer:        strings.TrimSpace(configViper.GetString("outbox.consumer")),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// CompilerOptions returns the compile settings; the caller attaches a logger.
func (c AppConfig) CompilerOptions() compiler.Options {
	return compiler.Options{OutboxVariant: c.OutboxVariant, JoinTablePrefix: c.JoinTablePrefix}
}

// UsesPostgres reports whether the outbox lives in Postgres rather than SQLite.
func (c AppConfig) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

func (c AppConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox.poll_interval must be positive")
	}
	if c.BatchSize <= 0 || c.BatchSize > maxBatchSize {
		return fmt.Errorf("outbox.batch_size must be between 1 and %d", maxBatchSize)
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return fmt.Errorf("database.url or database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}
