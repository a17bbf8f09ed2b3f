package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{Host: "db.internal", Port: 5432}.withDefaults()

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "prefer", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		SSLMode:         "require",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}.withDefaults()

	assert.Equal(t, "require", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultConfigMatchesWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
}
