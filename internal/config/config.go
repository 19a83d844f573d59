package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	DatabaseURL string

	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	SessionCacheSize int
	HistoryLimit     int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	S3Bucket     string
	S3PresignTTL time.Duration

	// PrescriptionStore selects the record backend: "postgres" or "dynamodb".
	PrescriptionStore  string
	PrescriptionsTable string

	VisionProvider       string
	VQAEndpoint          string
	VQATimeout           time.Duration
	BedrockVisionModelID string

	DrugAPIServiceKey  string
	DrugOTCAPIURL      string
	DrugRxAPIURL       string
	DrugAPITimeout     time.Duration
	DrugDetailMaxChars int
	DrugMatchThreshold float64

	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string

	AgentStrategy      string
	AgentMaxIterations int

	JWTSecret          string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		SessionCacheSize: getEnvAsInt("SESSION_CACHE_SIZE", 50),
		HistoryLimit:     getEnvAsInt("HISTORY_LIMIT", 25),

		AWSRegion:           getEnv("AWS_REGION", "ap-northeast-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", time.Hour),

		PrescriptionStore:  strings.ToLower(strings.TrimSpace(getEnv("PRESCRIPTION_STORE", "postgres"))),
		PrescriptionsTable: getEnv("PRESCRIPTIONS_TABLE", "prescriptions"),

		VisionProvider:       strings.ToLower(strings.TrimSpace(getEnv("VISION_PROVIDER", "http"))),
		VQAEndpoint:          getEnv("VQA_ENDPOINT", ""),
		VQATimeout:           getEnvAsDuration("VQA_TIMEOUT", 120*time.Second),
		BedrockVisionModelID: getEnv("BEDROCK_VISION_MODEL_ID", ""),

		DrugAPIServiceKey:  getEnv("DRUG_API_SERVICE_KEY", ""),
		DrugOTCAPIURL:      getEnv("DRUG_OTC_API_URL", "https://apis.data.go.kr/1471000/DrbEasyDrugInfoService/getDrbEasyDrugList"),
		DrugRxAPIURL:       getEnv("DRUG_RX_API_URL", "https://apis.data.go.kr/1471000/DrugPrdtPrmsnInfoService06/getDrugPrdtPrmsnInq06"),
		DrugAPITimeout:     getEnvAsDuration("DRUG_API_TIMEOUT", 10*time.Second),
		DrugDetailMaxChars: getEnvAsInt("DRUG_DETAIL_MAX_CHARS", 200),
		DrugMatchThreshold: getEnvAsFloat("DRUG_MATCH_THRESHOLD", 0.8),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "none"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o"),

		AgentStrategy:      strings.ToLower(strings.TrimSpace(getEnv("AGENT_STRATEGY", "keyword"))),
		AgentMaxIterations: getEnvAsInt("AGENT_MAX_ITERATIONS", 4),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		MaxUploadBytes:     int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
