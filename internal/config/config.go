// Package config assembles the single Config struct the a2a-memory-core
// binary loads at startup: one nested struct per concern, mirroring the
// teacher's internal/config.Config (JWT/Auth/API/P2P sections), extended
// with every option spec §6's configuration table names.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/compression"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/conflict"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/memory"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/persistence"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/sharding"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/transport"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

// Config holds the full application configuration (spec §6).
type Config struct {
	AgentID     string            `yaml:"agent_id" json:"agent_id"`
	Topology    memory.TopologyInputs `yaml:"topology" json:"topology"`
	Gossip      gossip.Config     `yaml:"gossip" json:"gossip"`
	Sharding    sharding.Config   `yaml:"sharding" json:"sharding"`
	Conflict    ConflictConfig    `yaml:"conflict" json:"conflict"`
	VectorClock VectorClockConfig `yaml:"vector_clock" json:"vector_clock"`

	JWT         JWTConfig          `yaml:"jwt" json:"jwt"`
	Auth        AuthConfig         `yaml:"auth" json:"auth"`
	API         APIConfig          `yaml:"api" json:"api"`
	Transport   transport.Config   `yaml:"transport" json:"transport"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
}

// ConflictConfig configures conflict.Resolver's tunables.
type ConflictConfig struct {
	RateConstant float64 `yaml:"rate_constant" json:"rate_constant"`
}

// VectorClockConfig configures vclock.Clock pruning.
type VectorClockConfig struct {
	Pruning vclock.PruneConfig `yaml:"pruning" json:"pruning"`
}

// JWTConfig holds JWT-related configuration.
type JWTConfig struct {
	SecretKey   string        `yaml:"secret_key" json:"secret_key"`
	ExpiryTime  time.Duration `yaml:"expiry_time" json:"expiry_time"`
	RefreshTime time.Duration `yaml:"refresh_time" json:"refresh_time"`
	Issuer      string        `yaml:"issuer" json:"issuer"`
	Audience    string        `yaml:"audience" json:"audience"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Method      string        `yaml:"method" json:"method"`
	TokenExpiry time.Duration `yaml:"token_expiry" json:"token_expiry"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	ListenAddr  string          `yaml:"listen_addr" json:"listen_addr"`
	TLSEnabled  bool            `yaml:"tls_enabled" json:"tls_enabled"`
	CertFile    string          `yaml:"cert_file" json:"cert_file"`
	KeyFile     string          `yaml:"key_file" json:"key_file"`
	MaxBodySize int64           `yaml:"max_body_size" json:"max_body_size"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Cors        CorsConfig      `yaml:"cors" json:"cors"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	RequestsPer int           `yaml:"requests_per" json:"requests_per"`
	Duration    time.Duration `yaml:"duration" json:"duration"`
	BurstSize   int           `yaml:"burst_size" json:"burst_size"`
}

// CorsConfig holds CORS configuration.
type CorsConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers" json:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials" json:"allow_credentials"`
	MaxAge           int      `yaml:"max_age_seconds" json:"max_age_seconds"`
}

// PersistenceConfig wraps pkg/persistence.Config with an Enabled flag,
// since persistence is optional and pluggable (spec §6 Non-goals).
type PersistenceConfig struct {
	Enabled bool               `yaml:"enabled" json:"enabled"`
	Postgres persistence.Config `yaml:"postgres" json:"postgres"`
}

// DefaultConfig returns a default configuration, env-overridable the way
// the teacher's DefaultConfig is.
func DefaultConfig() *Config {
	return &Config{
		AgentID: getEnvOrDefault("A2A_AGENT_ID", "agent-local"),
		Topology: memory.TopologyInputs{
			AgentCount:  getEnvIntOrDefault("A2A_AGENT_COUNT", 3),
			Consistency: memory.ConsistencyEventual,
		},
		Gossip:   gossip.DefaultConfig(),
		Sharding: sharding.DefaultConfig(),
		Conflict: ConflictConfig{RateConstant: conflict.DefaultRateConstant},
		VectorClock: VectorClockConfig{
			Pruning: vclock.DefaultPruneConfig(),
		},
		JWT: JWTConfig{
			SecretKey:   getEnvOrDefault("JWT_SECRET_KEY", "change-this-in-production"),
			ExpiryTime:  24 * time.Hour,
			RefreshTime: 7 * 24 * time.Hour,
			Issuer:      "a2a-memory-core",
			Audience:    "a2a-memory-agents",
		},
		Auth: AuthConfig{
			Enabled:     getEnvBoolOrDefault("AUTH_ENABLED", true),
			Method:      getEnvOrDefault("AUTH_METHOD", "jwt"),
			TokenExpiry: 24 * time.Hour,
		},
		API: APIConfig{
			ListenAddr:  getEnvOrDefault("API_LISTEN_ADDR", "0.0.0.0:8743"),
			TLSEnabled:  getEnvBoolOrDefault("API_TLS_ENABLED", false),
			MaxBodySize: int64(getEnvIntOrDefault("API_MAX_BODY_SIZE", 8*1024*1024)),
			RateLimit: RateLimitConfig{
				Enabled:     getEnvBoolOrDefault("RATE_LIMIT_ENABLED", true),
				RequestsPer: getEnvIntOrDefault("RATE_LIMIT_REQUESTS", 100),
				Duration:    time.Minute,
				BurstSize:   getEnvIntOrDefault("RATE_LIMIT_BURST", 20),
			},
			Cors: CorsConfig{
				Enabled:        getEnvBoolOrDefault("CORS_ENABLED", true),
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         600,
			},
		},
		Transport: transport.DefaultConfig(),
		Persistence: PersistenceConfig{
			Enabled:  getEnvBoolOrDefault("PERSISTENCE_ENABLED", false),
			Postgres: persistence.DefaultConfig(),
		},
	}
}

// LoadConfig reads path (YAML) and overlays it onto DefaultConfig; if path
// is empty or doesn't exist, the defaults are returned unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
