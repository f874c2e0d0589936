package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	Secret       string        `mapstructure:"secret"`
	DBPath       string        `mapstructure:"db_path"`
	RedisURL     string        `mapstructure:"redis_url"`
	DefaultRoom  string        `mapstructure:"default_room"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	HistoryLimit int           `mapstructure:"history_limit"`
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
	v.SetDefault("static_path", "./web")
	v.SetDefault("db_path", "./data/parley.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("default_room", "general_chat")
	v.SetDefault("heartbeat_ttl", "120s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("history_limit", 20)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
