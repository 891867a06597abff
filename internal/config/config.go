// Package config loads runtime settings from defaults, an optional
// voxnote.{yaml,toml} file, and VOXNOTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the client.
type Config struct {
	DBPath        string        `mapstructure:"db_path"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	AudioDir      string        `mapstructure:"audio_dir"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	LocalAPIToken string        `mapstructure:"local_api_token"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	SyncRetries   uint64        `mapstructure:"sync_retries"`
	StreamChunk   int           `mapstructure:"stream_chunk_bytes"`

	S3   S3Config   `mapstructure:"s3"`
	Push PushConfig `mapstructure:"push"`
}

// S3Config describes the backup bucket.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Configured reports whether enough is set to reach a bucket.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// PushConfig holds the VAPID identity used for local web push.
type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
}

// Enabled reports whether a VAPID key pair is configured.
func (c PushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// New returns a viper instance with defaults, env binding, and the
// config file search path applied. Flags may be bound onto it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("db_path", "voxnote.db")
	v.SetDefault("api_base_url", "http://localhost:8000")
	v.SetDefault("audio_dir", "recordings")
	v.SetDefault("listen_addr", "127.0.0.1:8484")
	v.SetDefault("local_api_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("sync_retries", 3)
	v.SetDefault("stream_chunk_bytes", 32*1024)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "voxnote")

	v.SetEnvPrefix("VOXNOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("voxnote")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/voxnote")

	return v
}

// Load reads the config file (explicit path, or the search path when
// file is empty) and decodes the merged result. A missing file on the
// search path is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync_interval must be positive, got %s", cfg.SyncInterval)
	}
	if cfg.StreamChunk <= 0 {
		return nil, fmt.Errorf("stream_chunk_bytes must be positive, got %d", cfg.StreamChunk)
	}
	return &cfg, nil
}
