// Package config loads engine and service configuration from the
// environment with sane defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// EngineConfig holds the circle lifecycle parameters. All amounts are in
// the platform's smallest unit, all rates in basis points.
type EngineConfig struct {
	// Collateral buffer and late fee, applied to missed contributions.
	LateFeeBps int64

	// Pot payout fee: PlatformFeeBps of the pot while the pot is at or
	// below FeeTierThreshold, PlatformFlatFee above it. The creator's own
	// payout is always fee-exempt.
	PlatformFeeBps   int64
	FeeTierThreshold int64
	PlatformFlatFee  int64

	// Grace window after a round deadline before forfeiture applies.
	GraceDaily   time.Duration
	GraceDefault time.Duration

	// Ultimatum before a stalled circle may be voted on or dissolved.
	UltimatumShort time.Duration // daily and weekly circles
	UltimatumLong  time.Duration // monthly circles

	// Governance.
	VoteWindow          time.Duration
	StartQuorumPercent  int // minimum membership, percent of max members
	DissolutionFeePub   int64
	DissolutionFeePriv  int64
	VisibilityChangeFee int64

	// Yield circles.
	SurplusMemberPercent int   // member share of vault surplus
	PointsPerOnTime      int64 // performance points per on-time contribution
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Engine: DefaultEngineConfig(),
	}
}

// DefaultEngineConfig returns the engine parameters, overridable from the
// environment.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LateFeeBps:           getInt64Env("LATE_FEE_BPS", 100),
		PlatformFeeBps:       getInt64Env("PLATFORM_FEE_BPS", 100),
		FeeTierThreshold:     getInt64Env("FEE_TIER_THRESHOLD", 1_000_000),
		PlatformFlatFee:      getInt64Env("PLATFORM_FLAT_FEE", 10_000),
		GraceDaily:           getDurationEnv("GRACE_DAILY", 12*time.Hour),
		GraceDefault:         getDurationEnv("GRACE_DEFAULT", 48*time.Hour),
		UltimatumShort:       getDurationEnv("ULTIMATUM_SHORT", 7*24*time.Hour),
		UltimatumLong:        getDurationEnv("ULTIMATUM_LONG", 14*24*time.Hour),
		VoteWindow:           getDurationEnv("VOTE_WINDOW", 48*time.Hour),
		StartQuorumPercent:   getIntEnv("START_QUORUM_PERCENT", 60),
		DissolutionFeePub:    getInt64Env("DISSOLUTION_FEE_PUBLIC", 1_000),
		DissolutionFeePriv:   getInt64Env("DISSOLUTION_FEE_PRIVATE", 2_500),
		VisibilityChangeFee:  getInt64Env("VISIBILITY_CHANGE_FEE", 5_000),
		SurplusMemberPercent: getIntEnv("SURPLUS_MEMBER_PERCENT", 90),
		PointsPerOnTime:      getInt64Env("POINTS_PER_ON_TIME", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
