// Package config loads the environment inputs recognized by the ktrdr
// core (spec.md §6): the store connection parameters, the model directory
// path, and provider connection parameters. Strategy config files are a
// separate, stricter load path — see internal/config/strategy.go.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the process-level configuration, mirroring the teacher's
// mapstructure-tagged Config with the env set trimmed to spec.md §6.
type Config struct {
	Database struct {
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Name        string `mapstructure:"name"`
		User        string `mapstructure:"user"`
		Password    string `mapstructure:"password"`
		PoolSize    int    `mapstructure:"pool_size"`
		MaxOverflow int    `mapstructure:"max_overflow"`
	} `mapstructure:"database"`

	ModelDir string `mapstructure:"model_dir"`

	Provider struct {
		Host           string `mapstructure:"host"`
		Port           int    `mapstructure:"port"`
		ClientID       int    `mapstructure:"client_id"`
		SyncGraceMs    int    `mapstructure:"sync_grace_ms"`
		RequestTimeoutS int   `mapstructure:"request_timeout_s"`
	} `mapstructure:"provider"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_overflow", 5)
	v.SetDefault("model_dir", "./models")
	v.SetDefault("provider.sync_grace_ms", 2000)
	v.SetDefault("provider.request_timeout_s", 30)
}

// Load reads configuration from an optional file at configPath plus the
// environment variables named in spec.md §6
// (DB_HOST,DB_PORT,DB_NAME,DB_USER,DB_PASSWORD,DB_POOL_SIZE,DB_MAX_OVERFLOW),
// model directory path, and provider connection parameters.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("")
	bindEnv(v, "database.host", "DB_HOST")
	bindEnv(v, "database.port", "DB_PORT")
	bindEnv(v, "database.name", "DB_NAME")
	bindEnv(v, "database.user", "DB_USER")
	bindEnv(v, "database.password", "DB_PASSWORD")
	bindEnv(v, "database.pool_size", "DB_POOL_SIZE")
	bindEnv(v, "database.max_overflow", "DB_MAX_OVERFLOW")
	bindEnv(v, "model_dir", "MODEL_DIR")
	bindEnv(v, "provider.host", "PROVIDER_HOST")
	bindEnv(v, "provider.port", "PROVIDER_PORT")
	bindEnv(v, "provider.client_id", "PROVIDER_CLIENT_ID")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}
