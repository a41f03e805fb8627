// Package config loads server configuration from defaults, an optional YAML
// file, FIRELITE_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/observability"
	"github.com/markb/firelite/internal/realtime"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FIRELITE_SERVER_PORT.
const EnvPrefix = "FIRELITE"

// DefaultJWTSecret is used when auth.jwt-secret is unset. serve warns about it.
const DefaultJWTSecret = "super-secret-jwt-key-please-change-in-production"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Store    StoreConfig    `mapstructure:"store"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	HTTPSDomain string `mapstructure:"https-domain"`
	CertDir     string `mapstructure:"cert-dir"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt-secret"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	SQLitePath    string `mapstructure:"sqlite-path"`
	MongoURI      string `mapstructure:"mongo-uri"`
	MongoDatabase string `mapstructure:"mongo-database"`
	PostgresDSN   string `mapstructure:"postgres-dsn"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`
	PingTimeout       time.Duration `mapstructure:"ping-timeout"`
	MaxClients        int           `mapstructure:"max-clients"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	MaxSubscriptions  int           `mapstructure:"max-subscriptions"`
	PollWorkers       int           `mapstructure:"poll-workers"`
	EmitUnchanged     bool          `mapstructure:"emit-unchanged"`
}

type LogConfig struct {
	Mode        string `mapstructure:"mode"`
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	File        string `mapstructure:"file"`
	BufferLines int    `mapstructure:"buffer-lines"`
}

type OTelConfig struct {
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample-rate"`
	Metrics    bool    `mapstructure:"metrics"`
	Traces     bool    `mapstructure:"traces"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.https-domain", "")
	v.SetDefault("server.cert-dir", "./certs")

	v.SetDefault("auth.jwt-secret", "")

	v.SetDefault("store.backend", docstore.BackendSQLite)
	v.SetDefault("store.sqlite-path", "data.db")
	v.SetDefault("store.mongo-uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo-database", "firelite")
	v.SetDefault("store.postgres-dsn", "")

	rt := realtime.DefaultConfig()
	v.SetDefault("realtime.heartbeat-interval", rt.HeartbeatInterval)
	v.SetDefault("realtime.ping-timeout", rt.PingTimeout)
	v.SetDefault("realtime.max-clients", rt.MaxClients)
	v.SetDefault("realtime.poll-interval", rt.PollInterval)
	v.SetDefault("realtime.max-subscriptions", rt.MaxSubscriptions)
	v.SetDefault("realtime.poll-workers", rt.PollWorkers)
	v.SetDefault("realtime.emit-unchanged", rt.EmitUnchanged)

	lc := log.DefaultConfig()
	v.SetDefault("log.mode", lc.Mode)
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.file", lc.FilePath)
	v.SetDefault("log.buffer-lines", lc.BufferLines)

	oc := observability.NewConfig()
	v.SetDefault("otel.exporter", oc.Exporter)
	v.SetDefault("otel.endpoint", oc.Endpoint)
	v.SetDefault("otel.sample-rate", oc.SampleRate)
	v.SetDefault("otel.metrics", oc.MetricsEnabled)
	v.SetDefault("otel.traces", oc.TracesEnabled)
}

// Load builds the configuration. configFile may be empty, in which case
// firelite.yaml is looked up in the working directory and silently skipped
// when absent. Flags whose name matches a key (e.g. "realtime.poll-interval")
// or an alias in flagKeys override every other source when set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("firelite")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps short command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"https":         "server.https-domain",
	"cert-dir":      "server.cert-dir",
	"db":            "store.sqlite-path",
	"store":         "store.backend",
	"jwt-secret":    "auth.jwt-secret",
	"log-mode":      "log.mode",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
	"poll-interval": "realtime.poll-interval",
	"max-clients":   "realtime.max-clients",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			if !v.IsSet(f.Name) {
				return
			}
			key = f.Name
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case docstore.BackendMemory, docstore.BackendSQLite, docstore.BackendMongo, docstore.BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == docstore.BackendPostgres && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres-dsn is required for the postgres backend")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Realtime.PollInterval <= 0 {
		return fmt.Errorf("realtime.poll-interval must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 || c.Realtime.PingTimeout <= 0 {
		return fmt.Errorf("realtime heartbeat interval and ping timeout must be positive")
	}
	if c.Realtime.MaxClients <= 0 {
		return fmt.Errorf("realtime.max-clients must be positive")
	}
	if c.Realtime.PollWorkers <= 0 {
		return fmt.Errorf("realtime.poll-workers must be positive")
	}
	if c.Realtime.MaxSubscriptions < 0 {
		return fmt.Errorf("realtime.max-subscriptions must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// JWTSecret returns the configured secret or the development default.
func (c *Config) JWTSecret() (secret string, isDefault bool) {
	if c.Auth.JWTSecret == "" {
		return DefaultJWTSecret, true
	}
	return c.Auth.JWTSecret, false
}

func (c *Config) StoreConfig() docstore.Config {
	return docstore.Config{
		Backend:       c.Store.Backend,
		SQLitePath:    c.Store.SQLitePath,
		MongoURI:      c.Store.MongoURI,
		MongoDatabase: c.Store.MongoDatabase,
		PostgresDSN:   c.Store.PostgresDSN,
	}
}

func (c *Config) RealtimeConfig() realtime.Config {
	return realtime.Config{
		HeartbeatInterval: c.Realtime.HeartbeatInterval,
		PingTimeout:       c.Realtime.PingTimeout,
		MaxClients:        c.Realtime.MaxClients,
		PollInterval:      c.Realtime.PollInterval,
		MaxSubscriptions:  c.Realtime.MaxSubscriptions,
		PollWorkers:       c.Realtime.PollWorkers,
		EmitUnchanged:     c.Realtime.EmitUnchanged,
	}
}

func (c *Config) LogConfig() *log.Config {
	lc := log.DefaultConfig()
	lc.Mode = c.Log.Mode
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.FilePath = c.Log.File
	lc.BufferLines = c.Log.BufferLines
	return lc
}

func (c *Config) TelemetryConfig() *observability.Config {
	oc := observability.NewConfig()
	oc.Exporter = c.OTel.Exporter
	oc.Endpoint = c.OTel.Endpoint
	oc.SampleRate = c.OTel.SampleRate
	oc.MetricsEnabled = c.OTel.Metrics
	oc.TracesEnabled = c.OTel.Traces
	return oc
}
