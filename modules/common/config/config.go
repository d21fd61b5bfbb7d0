package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port              string `validate:"required,numeric"`
	CORSAllowedOrigin string

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// Supabase
	SupabaseURL        string `validate:"required,url"`
	SupabaseServiceKey string `validate:"required"`
	SupabaseAnonKey    string
	SupabaseJWTSecret  string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Image model
	ImageProvider      string `validate:"oneof=gateway gemini"`
	ImageGatewayURL    string `validate:"omitempty,url"`
	ImageGatewayAPIKey string
	ImageModel         string

	// Gemini API
	GeminiAPIKey        string
	GeminiModel         string
	GeminiBackend       string `validate:"oneof=gemini vertex"`
	GoogleCloudProject  string
	GoogleCloudLocation string

	ModelTimeout    time.Duration `validate:"gt=0"`
	ImageOutputWebP bool
	WebPQuality     float32 `validate:"gt=0,lte=100"`

	// Credit
	GenerationCreditCost int `validate:"gte=0"`

	// Rate limit (요청/초, 버스트)
	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=1"`

	// Worker
	WorkerConcurrency    int           `validate:"gte=1,lte=64"`
	PendingTimeout       time.Duration `validate:"gt=0"`
	PendingSweepInterval time.Duration `validate:"gt=0"`

	envFileLoaded bool
}

var (
	globalConfig *Config
	validate     = validator.New(validator.WithRequiredStructEnabled())
)

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	envLoaded := godotenv.Load() == nil

	cfg := &Config{
		// Server
		Port:              getEnv("PORT", "8080"),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		// Supabase
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		// Redis
		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", false),

		// Image model
		ImageProvider:      strings.ToLower(getEnv("IMAGE_PROVIDER", "gateway")),
		ImageGatewayURL:    getEnv("IMAGE_GATEWAY_URL", "https://ai.gateway.lovable.dev/v1/chat/completions"),
		ImageGatewayAPIKey: getEnv("IMAGE_GATEWAY_API_KEY", ""),
		ImageModel:         getEnv("IMAGE_MODEL", "google/gemini-2.5-flash-image-preview"),

		// Gemini API
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBackend:       strings.ToLower(getEnv("GEMINI_BACKEND", "gemini")),
		GoogleCloudProject:  getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation: getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),

		ModelTimeout:    getEnvDuration("MODEL_TIMEOUT", 120*time.Second),
		ImageOutputWebP: getEnvBool("IMAGE_OUTPUT_WEBP", false),
		WebPQuality:     float32(getEnvFloat("WEBP_QUALITY", 90)),

		// Credit (1 크레딧 = 이미지 1장)
		GenerationCreditCost: getEnvInt("GENERATION_CREDIT_COST", 1),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),

		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		PendingTimeout:       getEnvDuration("PENDING_TIMEOUT", 10*time.Minute),
		PendingSweepInterval: getEnvDuration("PENDING_SWEEP_INTERVAL", 5*time.Minute),

		envFileLoaded: envLoaded,
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// LogSummary - 로드된 설정 요약 출력 (logger 초기화 이후 호출)
func (c *Config) LogSummary(l *zap.Logger) {
	if !c.envFileLoaded {
		l.Warn("⚠️  .env file not found, using environment variables")
	}
	l.Info("✅ Configuration loaded successfully",
		zap.String("supabase", c.SupabaseURL),
		zap.Bool("redis_enabled", c.RedisEnabled),
		zap.String("redis", c.GetRedisAddr()),
		zap.String("image_provider", c.ImageProvider),
		zap.String("image_model", c.ActiveModel()),
		zap.Duration("model_timeout", c.ModelTimeout),
		zap.Bool("webp_output", c.ImageOutputWebP),
		zap.Int("credit_cost", c.GenerationCreditCost),
	)
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.RedisEnabled && c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED=true")
	}
	switch c.ImageProvider {
	case "gateway":
		if c.ImageGatewayURL == "" || c.ImageGatewayAPIKey == "" {
			return fmt.Errorf("IMAGE_GATEWAY_URL and IMAGE_GATEWAY_API_KEY are required for the gateway provider")
		}
	case "gemini":
		if c.GeminiBackend == "vertex" {
			if c.GoogleCloudProject == "" {
				return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the vertex backend")
			}
		} else if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	}
	return nil
}

// ActiveModel - 현재 provider가 사용하는 모델명
func (c *Config) ActiveModel() string {
	if c.ImageProvider == "gemini" {
		return c.GeminiModel
	}
	return c.ImageModel
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration - "90s", "10m" 형식 또는 초 단위 숫자
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
