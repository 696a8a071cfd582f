package config

import (
	"testing"
	"time"

	"parking_ledger/internal/tariff"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 3*time.Second, cfg.LockWait)
	assert.Equal(t, "America/Santiago", cfg.Location.String())
	assert.Equal(t, tariff.Default(), cfg.Tariff)
}

func TestFromViper_Overrides(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"DB_DRIVER":              "Postgres",
		"DB_PORT":                "6543",
		"TARIFF_ROUNDING_TARGET": "minutes",
		"TARIFF_PER_MINUTE_RATE": "30",
		"TIMEZONE":               "UTC",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 6543, cfg.DBPort)
	assert.Equal(t, tariff.RoundMinutes, cfg.Tariff.RoundingTarget)
	assert.Equal(t, int64(30), cfg.Tariff.PerMinuteRate)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestFromViper_Invalid(t *testing.T) {
	tests := []map[string]any{
		{"DB_DRIVER": "mysql"},
		{"TARIFF_ROUNDING_TARGET": "hours"},
		{"TARIFF_ROUNDING_UNIT": 0},
		{"TIMEZONE": "Mars/Olympus"},
		{"LOCK_WAIT": "0s"},
	}

	for _, overrides := range tests {
		_, err := fromViper(newViper(overrides))
		assert.Error(t, err, "%v", overrides)
	}
}
