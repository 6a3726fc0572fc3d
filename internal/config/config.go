package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Pipeline  PipelineConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	// ExposeErrors passes processing error messages through to clients.
	ExposeErrors bool
}

type PipelineConfig struct {
	LogoPath    string
	JPEGQuality int
	MaxPixels   int64
}

type StorageConfig struct {
	Backend       string
	Bucket        string
	Prefix        string
	PublicBaseURL string
	Minio         MinioConfig
	S3            S3Config
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type S3Config struct {
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Capacity      int
	Window        time.Duration
	UserIDHeader  string
}

// Enabled reports whether a redis address was configured.
func (r RateLimitConfig) Enabled() bool {
	return r.RedisAddr != ""
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads an optional .env file from the working directory and then
// resolves every setting from the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		API: APIConfig{
			Addr:           env("PIXELSTAMP_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("PIXELSTAMP_MAX_UPLOAD_BYTES", 32<<20)),
			ExposeErrors:   envBool("PIXELSTAMP_EXPOSE_ERRORS", true),
		},
		Pipeline: PipelineConfig{
			LogoPath:    env("PIXELSTAMP_LOGO_PATH", "assets/logo.png"),
			JPEGQuality: envInt("PIXELSTAMP_JPEG_QUALITY", 85),
			MaxPixels:   int64(envInt("PIXELSTAMP_MAX_PIXELS", 178956970)),
		},
		Storage: StorageConfig{
			Backend:       env("STORAGE_BACKEND", "minio"),
			Bucket:        env("STORAGE_BUCKET", "pixelstamp-uploads"),
			Prefix:        env("STORAGE_PREFIX", "uploads"),
			PublicBaseURL: env("STORAGE_PUBLIC_BASE_URL", ""),
			Minio: MinioConfig{
				Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
				SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
			},
			S3: S3Config{
				Region:          env("S3_REGION", "us-east-1"),
				EndpointURL:     env("S3_ENDPOINT_URL", ""),
				AccessKeyID:     env("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: env("S3_SECRET_ACCESS_KEY", ""),
			},
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     env("RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword: env("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       envInt("RATE_LIMIT_REDIS_DB", 0),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 30),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader:  env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "pixelstamp-api"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
