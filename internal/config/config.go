package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"parking_ledger/internal/tariff"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	ServerPort string
	LogLevel   string

	DBDriver   string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration // how long a plate lock survives a crashed holder
	LockWait      time.Duration

	Timezone string
	Location *time.Location

	Tariff tariff.Tariff
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "parking")
	v.SetDefault("DB_PASSWORD", "parking")
	v.SetDefault("DB_NAME", "parking_ledger")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "data/estacionamiento.db")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("LOCK_WAIT", "3s")

	v.SetDefault("TIMEZONE", "America/Santiago")

	v.SetDefault("TARIFF_BASE_AMOUNT", tariff.DefaultBaseAmount)
	v.SetDefault("TARIFF_THRESHOLD_MINUTES", tariff.DefaultThresholdMinutes)
	v.SetDefault("TARIFF_PER_MINUTE_RATE", tariff.DefaultPerMinuteRate)
	v.SetDefault("TARIFF_ROUNDING_TARGET", string(tariff.RoundAmount))
	v.SetDefault("TARIFF_ROUNDING_UNIT", tariff.DefaultRoundingUnit)
}

// Load reads .env into the environment, then layers defaults, an optional
// config.yaml and environment variables through viper.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	target, err := tariff.ParseRoundingTarget(v.GetString("TARIFF_ROUNDING_TARGET"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort: v.GetString("SERVER_PORT"),
		LogLevel:   v.GetString("LOG_LEVEL"),

		DBDriver:   strings.ToLower(v.GetString("DB_DRIVER")),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSslMode:  v.GetString("DB_SSLMODE"),
		SQLitePath: v.GetString("SQLITE_PATH"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		LockTTL:       v.GetDuration("LOCK_TTL"),
		LockWait:      v.GetDuration("LOCK_WAIT"),

		Timezone: v.GetString("TIMEZONE"),

		Tariff: tariff.Tariff{
			BaseAmount:       v.GetInt64("TARIFF_BASE_AMOUNT"),
			ThresholdMinutes: v.GetInt64("TARIFF_THRESHOLD_MINUTES"),
			PerMinuteRate:    v.GetInt64("TARIFF_PER_MINUTE_RATE"),
			RoundingTarget:   target,
			RoundingUnit:     v.GetInt64("TARIFF_ROUNDING_UNIT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.LockTTL <= 0 || c.LockWait <= 0 {
		return fmt.Errorf("config: LOCK_TTL and LOCK_WAIT must be positive")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: TIMEZONE: %w", err)
	}
	c.Location = loc
	return c.Tariff.Validate()
}
