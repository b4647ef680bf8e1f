package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	MongoURI       string
	MongoDatabase  string
	WebhookKey     string
	JWTSecret      string
	JWTExpiry      string
	AdminEmail     string
	AdminPassHash  string
	AllowedOrigins []string
	CacheBackend   string // "memory" or "redis"
	Redis          RedisConfig
	Tasks          TaskConfig
	SampleLimit    int64
}

type RedisConfig struct {
	URL          string
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	RetryDelay   time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

type TaskConfig struct {
	Deadline    time.Duration // wall-clock budget per computation
	GracePeriod time.Duration // how long terminal tasks stay queryable
	MaxRetries  int           // resubmits after a superseded result
}

func Load() *Config {
	// .env is optional outside development
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		log.Fatal("MONGO_URI environment variable is not set")
	}

	webhookKey := os.Getenv("WEBHOOK_KEY")
	if webhookKey == "" {
		log.Fatal("WEBHOOK_KEY environment variable is not set")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173"
	}

	backend := os.Getenv("CACHE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	return &Config{
		Port:           port,
		MongoURI:       mongoURI,
		MongoDatabase:  getEnv("MONGO_DATABASE", "dashboard"),
		WebhookKey:     webhookKey,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpiry:      os.Getenv("JWT_EXPIRY"),
		AdminEmail:     getEnv("ADMIN_EMAIL", "admin@localhost"),
		AdminPassHash:  os.Getenv("ADMIN_PASSWORD_HASH"),
		AllowedOrigins: strings.Split(allowedOrigins, ","),
		CacheBackend:   backend,
		Redis:          loadRedisConfig(),
		Tasks: TaskConfig{
			Deadline:    getDuration("TASK_DEADLINE", 60*time.Second),
			GracePeriod: getDuration("TASK_GRACE_PERIOD", 5*time.Minute),
			MaxRetries:  getInt("TASK_MAX_RETRIES", 3),
		},
		SampleLimit: int64(getInt("SAMPLE_LIMIT", 200)),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnv("REDIS_PORT", "6379"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           getInt("REDIS_DB", 0),
		PoolSize:     getInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
		MaxRetries:   getInt("REDIS_MAX_RETRIES", 3),
		RetryDelay:   getDuration("REDIS_RETRY_DELAY", 100*time.Millisecond),
		DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		PoolTimeout:  getDuration("REDIS_POOL_TIMEOUT", 4*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid value for %s, using default %d", key, fallback)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s, using default %v", key, fallback)
	}
	return fallback
}
