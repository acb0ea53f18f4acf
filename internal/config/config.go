package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode" validate:"oneof=debug release"`
	Port           int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadLimit      int64         `mapstructure:"read_limit" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	PingPeriod     time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	SendBuffer     int           `mapstructure:"send_buffer" validate:"gt=0"`
	VoiceThreshold float64       `mapstructure:"voice_threshold" validate:"gt=0,lt=1"`
	VoiceHangover  time.Duration `mapstructure:"voice_hangover" validate:"gt=0"`
	DirectoryURL   string        `mapstructure:"directory_url"`
	IdentityURL    string        `mapstructure:"identity_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("voice_threshold", 0.05)
	v.SetDefault("voice_hangover", "1s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
