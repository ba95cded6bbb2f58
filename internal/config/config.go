package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the SDK and the sandbox server.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	} `mapstructure:"log"`
	Storage struct {
		Driver        string `mapstructure:"driver" validate:"oneof=bolt sqlite memory"`
		Path          string `mapstructure:"path" validate:"required_unless=Driver memory"`
		EncryptionKey string `mapstructure:"encryption_key" validate:"omitempty,hexadecimal"`
	} `mapstructure:"storage"`
	Registration struct {
		BaseURL        string        `mapstructure:"base_url" validate:"required,http_url"`
		Token          string        `mapstructure:"token"`
		RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
		RetryMax       int           `mapstructure:"retry_max" validate:"gte=0"`
		RetryWaitMin   time.Duration `mapstructure:"retry_wait_min"`
		RetryWaitMax   time.Duration `mapstructure:"retry_wait_max" validate:"gtefield=RetryWaitMin"`
	} `mapstructure:"registration"`
	Push struct {
		Platform   string `mapstructure:"platform" validate:"required"`
		FormFactor string `mapstructure:"form_factor" validate:"required"`
		Token      string `mapstructure:"token"`
	} `mapstructure:"push"`
	Auth struct {
		ClientToken string `mapstructure:"client_token"`
		Secret      string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Server struct {
		Addr         string        `mapstructure:"addr" validate:"required"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		Username     string        `mapstructure:"username"`
		Password     string        `mapstructure:"password"`
		JWTSecret    string        `mapstructure:"jwt_secret"`
		TokenTTL     time.Duration `mapstructure:"token_ttl"`
		IdentityTTL  time.Duration `mapstructure:"identity_ttl"`
		StoragePath  string        `mapstructure:"storage_path"`
	} `mapstructure:"server"`
	Crypto struct {
		KeyBits int `mapstructure:"key_bits" validate:"oneof=128 256"`
	} `mapstructure:"crypto"`
}

// Load reads the configuration from disk/environment using Viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("bark_push")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// missing file is fine: env and defaults are enough to run
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StorageKey decodes the hex storage encryption key. A nil key means values are stored in clear.
func (c *Config) StorageKey() ([]byte, error) {
	if c.Storage.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Storage.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode storage.encryption_key: %w", err)
	}
	return key, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.path", "./data/push.db")
	v.SetDefault("storage.encryption_key", "")

	v.SetDefault("registration.base_url", "http://127.0.0.1:8090")
	v.SetDefault("registration.token", "")
	v.SetDefault("registration.request_timeout", "10s")
	v.SetDefault("registration.retry_max", 2)
	v.SetDefault("registration.retry_wait_min", "200ms")
	v.SetDefault("registration.retry_wait_max", "2s")

	v.SetDefault("push.platform", "linux")
	v.SetDefault("push.form_factor", "desktop")
	v.SetDefault("push.token", "")

	// unset keys are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("auth.client_token", "")
	v.SetDefault("auth.secret", "")

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.username", "admin")
	v.SetDefault("server.password", "admin123")
	v.SetDefault("server.jwt_secret", "change-me-secret")
	v.SetDefault("server.token_ttl", "12h")
	v.SetDefault("server.identity_ttl", "720h")
	v.SetDefault("server.storage_path", "./data/registrations.db")

	v.SetDefault("crypto.key_bits", 256)
}
