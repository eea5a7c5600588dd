package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DashScopeAPIKey  string
	DashScopeBaseURL string
	WanImageModel    string
	WanVideoModel    string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	StoragePath      string
	VideoPromptCap   int
	TaskMaxRetries   int
	ArtifactTTL      time.Duration
	PollInterval     time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: without it, session
// and task snapshots stay in memory for the process lifetime.
// DASHSCOPE_API_KEY is also optional; keyless processes fall back to
// the synthetic local provider.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		WanImageModel:    getEnv("WAN_IMAGE_MODEL", "wan2.6-image"),
		WanVideoModel:    getEnv("WAN_VIDEO_MODEL", "wan2.6-t2v"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		StoragePath:      getEnv("STORAGE_PATH", "data/references"),
		VideoPromptCap:   getEnvInt("VIDEO_PROMPT_CAP", 800),
		TaskMaxRetries:   getEnvInt("TASK_MAX_RETRIES", 3),
		ArtifactTTL:      time.Hour * time.Duration(getEnvInt("ARTIFACT_TTL_HOURS", 24)),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.TaskMaxRetries <= 0 {
		return nil, fmt.Errorf("TASK_MAX_RETRIES must be positive")
	}
	if cfg.VideoPromptCap <= 0 {
		return nil, fmt.Errorf("VIDEO_PROMPT_CAP must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
