package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	DBUrl     string
	JWTSecret string
	AppEnv    string
	LogLevel  string

	DBMaxConns int32
	DBMinConns int32

	RedisURL     string
	RedisChannel string

	AMQPURL        string
	AMQPExchange   string
	AMQPQueue      string
	AMQPBindingKey string
	AMQPPrefetch   int

	IdleResolveAfter    time.Duration
	IdleResolveSchedule string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_CHANNEL", "clubinbox:events")
	v.SetDefault("AMQP_EXCHANGE", "club.events")
	v.SetDefault("AMQP_QUEUE", "clubinbox.notifications")
	v.SetDefault("AMQP_BINDING_KEY", "#")
	v.SetDefault("AMQP_PREFETCH", 16)
	v.SetDefault("IDLE_RESOLVE_AFTER", "336h")
	v.SetDefault("IDLE_RESOLVE_SCHEDULE", "@every 15m")

	if file, exists := os.LookupEnv("CONFIG_FILE"); exists && file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	idleAfter, err := time.ParseDuration(v.GetString("IDLE_RESOLVE_AFTER"))
	if err != nil || idleAfter <= 0 {
		return nil, fmt.Errorf("IDLE_RESOLVE_AFTER must be a positive duration")
	}

	return &Config{
		Port:                v.GetString("PORT"),
		DBUrl:               v.GetString("DB_URL"),
		JWTSecret:           jwtSecret,
		AppEnv:              normalizeEnv(v.GetString("APP_ENV")),
		LogLevel:            strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		DBMaxConns:          v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:          v.GetInt32("DB_MIN_CONNS"),
		RedisURL:            v.GetString("REDIS_URL"),
		RedisChannel:        v.GetString("REDIS_CHANNEL"),
		AMQPURL:             v.GetString("AMQP_URL"),
		AMQPExchange:        v.GetString("AMQP_EXCHANGE"),
		AMQPQueue:           v.GetString("AMQP_QUEUE"),
		AMQPBindingKey:      v.GetString("AMQP_BINDING_KEY"),
		AMQPPrefetch:        v.GetInt("AMQP_PREFETCH"),
		IdleResolveAfter:    idleAfter,
		IdleResolveSchedule: v.GetString("IDLE_RESOLVE_SCHEDULE"),
	}, nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

// FanOutEnabled reports whether push events travel through Redis so every
// server instance can deliver them.
func (c *Config) FanOutEnabled() bool {
	return c != nil && c.RedisURL != ""
}

func (c *Config) IngestEnabled() bool {
	return c != nil && c.AMQPURL != ""
}
