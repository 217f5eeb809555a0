package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cartsync/internal/kv"
	"cartsync/internal/logger"
)

// Config is the process configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Session SessionConfig `mapstructure:"session"`
	// File is the config file actually read, empty when running on defaults.
	File string `mapstructure:"-"`
}

type AppConfig struct {
	Mode string `mapstructure:"mode"` // debug / release
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StoreConfig struct {
	Backend   string      `mapstructure:"backend"` // memory / pebble / redis
	PebbleDir string      `mapstructure:"pebble_dir"`
	Redis     RedisConfig `mapstructure:"redis"`
}

func (c StoreConfig) ToKVOptions() kv.Options {
	return kv.Options{
		Backend:   c.Backend,
		PebbleDir: c.PebbleDir,
		Redis: kv.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
	}
}

type JournalConfig struct {
	Sink           string `mapstructure:"sink"` // none / file / kafka / both
	Dir            string `mapstructure:"dir"`
	Filename       string `mapstructure:"filename"`
	KafkaBootstrap string `mapstructure:"kafka_bootstrap"`
	Topic          string `mapstructure:"topic"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

type SessionConfig struct {
	SaveTimeoutMS int `mapstructure:"save_timeout_ms"`
}

func (c SessionConfig) SaveTimeout() time.Duration {
	return time.Duration(c.SaveTimeoutMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "cartsync.log")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)
	v.SetDefault("store.backend", kv.BackendPebble)
	v.SetDefault("store.pebble_dir", "data/carts")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "cartsync")
	v.SetDefault("journal.sink", "file")
	v.SetDefault("journal.dir", "data/journal")
	v.SetDefault("journal.filename", "session.jsonl")
	v.SetDefault("journal.kafka_bootstrap", "localhost:9092")
	v.SetDefault("journal.topic", "cartsync-session-journal")
	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("session.save_timeout_ms", 2000)
}

// Load reads path, or config.yaml from the working directory or ./etc when
// path is empty. A missing default file is not an error: defaults and
// CARTSYNC_* environment variables still apply (store.backend ->
// CARTSYNC_STORE_BACKEND).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("cartsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./etc")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case kv.BackendMemory, kv.BackendPebble, kv.BackendRedis:
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	switch c.Journal.Sink {
	case "none", "file", "kafka", "both":
	default:
		return fmt.Errorf("config: unknown journal.sink %q", c.Journal.Sink)
	}
	if c.Session.SaveTimeoutMS < 0 {
		return fmt.Errorf("config: session.save_timeout_ms must be >= 0")
	}
	return nil
}
