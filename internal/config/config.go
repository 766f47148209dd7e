package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bobarin/listingreel/internal/models"
)

// Storage backends.
const (
	StorageSupabase = "supabase"
	StorageMinIO    = "minio"
)

type Config struct {
	// Server
	AppEnv             string
	APIPort            string
	IngestPort         string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	PublicBaseURL      string // Where the provider reaches the ingest process

	// Database
	DatabaseURL string
	AutoMigrate bool

	// Redis
	RedisURL string

	// Generation provider
	VideoProvider models.Provider
	FalKey        string
	FalBaseURL    string
	FalModel      string
	FalJWKSURL    string
	FalMaxImages  int

	// Veo (used when VIDEO_PROVIDER=veo)
	GeminiKey string
	VeoModel  string

	// Planning
	ClipDurationSeconds     int
	PriorityCategories      []string
	MinSecondaryScore       float64
	EnablePrioritySecondary bool
	DispatchConcurrency     int

	// Media
	FFmpegPath  string
	FFprobePath string
	TempDir     string

	// Storage
	StorageBackend        string
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOBucket           string
	MinIOUseSSL           bool
	MinIOPublicURL        string

	// Outbound webhooks
	CallbackWebhookURL     string
	CallbackWebhookSecret  string
	JobWebhookMaxRetries   int
	JobWebhookBackoff      time.Duration
	BatchWebhookMaxRetries int
	BatchWebhookBackoff    time.Duration

	// Worker
	MaxConcurrentJobs    int
	MaxConcurrentUploads int
	ClaimTTL             time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "production"),
		APIPort:            getEnv("API_PORT", "8080"),
		IngestPort:         getEnv("INGEST_PORT", "8081"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		VideoProvider: models.Provider(getEnv("VIDEO_PROVIDER", string(models.ProviderQueue))),
		FalKey:        getEnv("FAL_KEY", ""),
		FalBaseURL:    getEnv("FAL_QUEUE_URL", "https://queue.fal.run"),
		FalModel:      getEnv("FAL_MODEL", models.ModelKlingImageToVideo),
		FalJWKSURL:    getEnv("FAL_JWKS_URL", "https://rest.alpha.fal.ai/.well-known/jwks.json"),
		FalMaxImages:  getEnvInt("FAL_MAX_IMAGES", 1),
		GeminiKey:     getEnv("GEMINI_API_KEY", ""),
		VeoModel:      getEnv("VEO_MODEL", models.ModelVeo),

		ClipDurationSeconds:     getEnvInt("CLIP_DURATION_SECONDS", 5),
		PriorityCategories:      getEnvList("PRIORITY_CATEGORIES", []string{"kitchen", "primary_bedroom"}),
		MinSecondaryScore:       getEnvFloat("MIN_SECONDARY_SCORE", 0.6),
		EnablePrioritySecondary: getEnvBool("ENABLE_PRIORITY_SECONDARY", false),
		DispatchConcurrency:     getEnvInt("DISPATCH_CONCURRENCY", 1),

		FFmpegPath:  getEnv("FFMPEG_PATH", ""),
		FFprobePath: getEnv("FFPROBE_PATH", ""),
		TempDir:     getEnv("MEDIA_TEMP_DIR", "/tmp/listingreel"),

		StorageBackend:        getEnv("STORAGE_BACKEND", StorageSupabase),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "listing-videos"),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:           getEnv("MINIO_BUCKET", "listing-videos"),
		MinIOUseSSL:           getEnvBool("MINIO_USE_SSL", true),
		MinIOPublicURL:        getEnv("MINIO_PUBLIC_URL", ""),

		CallbackWebhookURL:     getEnv("CALLBACK_WEBHOOK_URL", ""),
		CallbackWebhookSecret:  getEnv("CALLBACK_WEBHOOK_SECRET", ""),
		JobWebhookMaxRetries:   getEnvInt("JOB_WEBHOOK_MAX_RETRIES", 3),
		JobWebhookBackoff:      getEnvDuration("JOB_WEBHOOK_BACKOFF", time.Second),
		BatchWebhookMaxRetries: getEnvInt("BATCH_WEBHOOK_MAX_RETRIES", 6),
		BatchWebhookBackoff:    getEnvDuration("BATCH_WEBHOOK_BACKOFF", 2*time.Second),

		MaxConcurrentJobs:    getEnvInt("MAX_CONCURRENT_JOBS", 5),
		MaxConcurrentUploads: getEnvInt("MAX_CONCURRENT_UPLOADS", 4),
		ClaimTTL:             getEnvDuration("FINALIZE_CLAIM_TTL", 15*time.Minute),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if cfg.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required so the provider can reach the webhook")
	}

	switch cfg.VideoProvider {
	case models.ProviderQueue:
		if cfg.FalKey == "" {
			return fmt.Errorf("FAL_KEY is required when VIDEO_PROVIDER=queue")
		}
	case models.ProviderVeo:
		if cfg.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when VIDEO_PROVIDER=veo")
		}
	default:
		return fmt.Errorf("unknown VIDEO_PROVIDER %q", cfg.VideoProvider)
	}

	switch cfg.StorageBackend {
	case StorageSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
		}
	case StorageMinIO:
		if cfg.MinIOEndpoint == "" || cfg.MinIOAccessKey == "" || cfg.MinIOSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.CallbackWebhookURL != "" && cfg.CallbackWebhookSecret == "" {
		return fmt.Errorf("CALLBACK_WEBHOOK_SECRET is required when CALLBACK_WEBHOOK_URL is set")
	}

	return nil
}

// GenerationModel is the model jobs are planned against for the selected provider.
func (cfg *Config) GenerationModel() string {
	if cfg.VideoProvider == models.ProviderVeo {
		return cfg.VeoModel
	}
	return cfg.FalModel
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or whole seconds ("2").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
