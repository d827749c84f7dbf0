package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Transcode TranscodeConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	PublicBaseURL      string // prefix for streaming_url, e.g. https://api.example.com
	EmbeddedWorker     bool   // run a transcode worker inside the API process
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/vod?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. An empty secret leaves mutating routes open.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// StorageConfig holds object storage settings (AWS S3 or any S3-compatible endpoint such as R2 or MinIO).
type StorageConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	Endpoint             string
	UsePathStyle         bool
	PrivateBucket        bool
	PresignExpireMinutes int
}

// TranscodeConfig holds pipeline settings.
type TranscodeConfig struct {
	FFmpegPath     string
	WorkDir        string // scratch root; empty = os.TempDir()
	EncodeTimeout  time.Duration
	UploadTimeout  time.Duration
	Parallelism    int
	Preset         string
	MaxUploadBytes int64
	WorkspaceTTL   time.Duration // scratch dirs older than this are treated as crash leftovers
}

// ReconcileConfig controls the periodic sweep that re-enqueues stuck videos.
type ReconcileConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 300),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			EmbeddedWorker:     getEnvBool("EMBEDDED_WORKER", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "vod"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Storage: StorageConfig{
			Region:               getEnv("STORAGE_REGION", "us-east-1"),
			AccessKeyID:          getEnv("STORAGE_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
			Bucket:               getEnv("STORAGE_BUCKET", "vod-media"),
			Endpoint:             getEnv("STORAGE_ENDPOINT", ""),
			UsePathStyle:         getEnvBool("STORAGE_USE_PATH_STYLE", false),
			PrivateBucket:        getEnvBool("STORAGE_PRIVATE_BUCKET", false),
			PresignExpireMinutes: getEnvInt("STORAGE_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Transcode: TranscodeConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
			WorkDir:        getEnv("TRANSCODE_WORK_DIR", ""),
			EncodeTimeout:  getEnvDuration("TRANSCODE_ENCODE_TIMEOUT", time.Hour),
			UploadTimeout:  getEnvDuration("TRANSCODE_UPLOAD_TIMEOUT", 30*time.Minute),
			Parallelism:    getEnvInt("TRANSCODE_PARALLELISM", 1),
			Preset:         getEnv("TRANSCODE_PRESET", "fast"),
			MaxUploadBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 2048000*1024)),
			WorkspaceTTL:   getEnvDuration("TRANSCODE_WORKSPACE_TTL", 24*time.Hour),
		},
		Reconcile: ReconcileConfig{
			Schedule:   getEnv("RECONCILE_SCHEDULE", "@every 5m"),
			StaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
		},
	}
	if cfg.Transcode.Parallelism < 1 {
		return nil, fmt.Errorf("TRANSCODE_PARALLELISM must be >= 1, got %d", cfg.Transcode.Parallelism)
	}
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET is required")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
