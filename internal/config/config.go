package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string
	JWTSecret        string
	DBURL            string
	ReadTimeoutSecs  int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int
	RateLimitPerMin  int

	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	TMDBURL         string
	TMDBAPIKey      string
	TMDBTimeoutSecs int
	TMDBRatePerSec  float64
	TMDBBurst       int

	CacheBackend        string
	CacheCapacity       int
	CacheStaleRetention time.Duration
	TrendingTTL         time.Duration
	DetailsTTL          time.Duration
	SearchTTL           time.Duration
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisPrefix         string

	RecommendWeightPopularity float64
	RecommendWeightVote       float64
	RecommendWeightGenre      float64
	RecommendOversample       int
	ExcludeBookmarked         bool

	DuplicateInteractionPolicy string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults and validation.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		DBURL:            os.Getenv("DB_URL"),
		ReadTimeoutSecs:  getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MIN", 300),

		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),

		TMDBURL:         getEnv("TMDB_URL", "https://api.themoviedb.org/3"),
		TMDBAPIKey:      os.Getenv("TMDB_API_KEY"),
		TMDBTimeoutSecs: getEnvInt("TMDB_TIMEOUT_SECS", 4),
		TMDBRatePerSec:  getEnvFloat("TMDB_RATE_PER_SEC", 20),
		TMDBBurst:       getEnvInt("TMDB_BURST", 10),

		CacheBackend:        strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		CacheCapacity:       getEnvInt("CACHE_CAPACITY", 10000),
		CacheStaleRetention: getEnvDuration("CACHE_STALE_RETENTION", 24*time.Hour),
		TrendingTTL:         getEnvDuration("CACHE_TTL_TRENDING", 10*time.Minute),
		DetailsTTL:          getEnvDuration("CACHE_TTL_DETAILS", 6*time.Hour),
		SearchTTL:           getEnvDuration("CACHE_TTL_SEARCH", 5*time.Minute),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisPrefix:         getEnv("REDIS_PREFIX", "moviecache"),

		RecommendWeightPopularity: getEnvFloat("RECOMMEND_WEIGHT_POPULARITY", 0.5),
		RecommendWeightVote:       getEnvFloat("RECOMMEND_WEIGHT_VOTE", 0.3),
		RecommendWeightGenre:      getEnvFloat("RECOMMEND_WEIGHT_GENRE", 0.2),
		RecommendOversample:       getEnvInt("RECOMMEND_OVERSAMPLE", 3),
		ExcludeBookmarked:         getEnvBool("RECOMMEND_EXCLUDE_BOOKMARKED", false),

		DuplicateInteractionPolicy: strings.ToLower(getEnv("DUPLICATE_INTERACTION_POLICY", "idempotent")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.TMDBAPIKey == "" {
		return Config{}, fmt.Errorf("TMDB_API_KEY is required")
	}
	if cfg.TMDBTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("TMDB_TIMEOUT_SECS must be positive")
	}
	if cfg.TMDBRatePerSec <= 0 {
		return Config{}, fmt.Errorf("TMDB_RATE_PER_SEC must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return Config{}, fmt.Errorf("CACHE_BACKEND must be memory or redis")
	}
	if cfg.CacheCapacity <= 0 {
		return Config{}, fmt.Errorf("CACHE_CAPACITY must be positive")
	}
	if cfg.TrendingTTL <= 0 || cfg.DetailsTTL <= 0 || cfg.SearchTTL <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_* values must be positive")
	}
	if cfg.RecommendOversample < 1 {
		return Config{}, fmt.Errorf("RECOMMEND_OVERSAMPLE must be at least 1")
	}
	if cfg.DuplicateInteractionPolicy != "idempotent" && cfg.DuplicateInteractionPolicy != "reject" {
		return Config{}, fmt.Errorf("DUPLICATE_INTERACTION_POLICY must be idempotent or reject")
	}

	return cfg, nil
}

// UpstreamTimeout is the per-call deadline applied to catalog requests.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.TMDBTimeoutSecs) * time.Second
}

// FetchBudget bounds one cached upstream read: the call and its single retry.
// Mirror writes run on their own deadline.
func (c Config) FetchBudget() time.Duration {
	return 2*c.UpstreamTimeout() + time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
