package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History backends understood by HISTORY_BACKEND
const (
	HistoryMemory   = "memory"
	HistoryRedis    = "redis"
	HistoryPostgres = "postgres"
	HistorySQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port     string
		GRPCPort string
		Env      string
		Timeout  time.Duration
		BaseURL  string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// SQLite configuration
	SQLite struct {
		Path string
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Assistant configuration
	Assistant struct {
		HistoryBackend     string
		StorageKey         string
		MaxStoredMessages  int
		DefaultModel       string
		SessionIdleTTL     time.Duration
		MaxSessions        int
		PincodeDirectory   string
		AppBaseURL         string
		ComplaintFormPath  string
		MaxImageSize       int64
		TransportTimeout   time.Duration
		BreakerThreshold   uint
		BreakerRetryPeriod time.Duration
	}

	// Gemini configuration
	Gemini struct {
		APIKey   string
		Backend  string
		Project  string
		Location string
	}

	// Speech services
	Speech struct {
		STTURL   string
		STTModel string
		STTKey   string
		TTSURL   string
		TTSVoice string
		TTSKey   string
	}

	// Telegram front-end
	Telegram struct {
		Token   string
		Enabled bool
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	// Observability settings
	Observability struct {
		ServiceName   string
		EnableTracing bool
		OpenAPISchema string
	}
}

// Load reads .env (if present) and the environment into a fresh Config
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9091")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)

	// Database config
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "echo-civic")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Redis config
	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// SQLite config
	cfg.SQLite.Path = getEnvString("SQLITE_PATH", "echo_history.db")

	// JWT config
	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Assistant config
	cfg.Assistant.HistoryBackend = strings.ToLower(getEnvString("HISTORY_BACKEND", HistoryMemory))
	cfg.Assistant.StorageKey = getEnvString("HISTORY_STORAGE_KEY", "echo_corner_chat_history")
	cfg.Assistant.MaxStoredMessages = getEnvInt("MAX_STORED_MESSAGES", 30)
	cfg.Assistant.DefaultModel = getEnvString("DEFAULT_MODEL", "gemini-2.5-flash")
	cfg.Assistant.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.Assistant.MaxSessions = getEnvInt("MAX_SESSIONS", 1000)
	cfg.Assistant.PincodeDirectory = getEnvString("PINCODE_DIRECTORY_PATH", "")
	cfg.Assistant.AppBaseURL = getEnvString("APP_BASE_URL", "http://localhost:5173")
	cfg.Assistant.ComplaintFormPath = getEnvString("COMPLAINT_FORM_PATH", "/app")
	cfg.Assistant.MaxImageSize = getEnvInt64("MAX_IMAGE_SIZE", 8<<20) // 8MB
	cfg.Assistant.TransportTimeout = getEnvDuration("TRANSPORT_TIMEOUT", 0)
	cfg.Assistant.BreakerThreshold = uint(getEnvInt("BREAKER_THRESHOLD", 5))
	cfg.Assistant.BreakerRetryPeriod = getEnvDuration("BREAKER_RETRY_PERIOD", 30*time.Second)

	// Gemini config
	cfg.Gemini.APIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.Gemini.Backend = getEnvString("GEMINI_BACKEND", "gemini")
	cfg.Gemini.Project = getEnvString("GEMINI_PROJECT", "")
	cfg.Gemini.Location = getEnvString("GEMINI_LOCATION", "us-central1")

	// Speech config
	cfg.Speech.STTURL = getEnvString("STT_URL", "https://api.openai.com/v1/audio/transcriptions")
	cfg.Speech.STTModel = getEnvString("STT_MODEL", "whisper-1")
	cfg.Speech.STTKey = getEnvString("STT_API_KEY", "")
	cfg.Speech.TTSURL = getEnvString("TTS_URL", "https://api.elevenlabs.io/v1/text-to-speech")
	cfg.Speech.TTSVoice = getEnvString("TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM")
	cfg.Speech.TTSKey = getEnvString("TTS_API_KEY", "")

	// Telegram config
	cfg.Telegram.Token = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.Telegram.Enabled = getEnvBool("TELEGRAM_ENABLED", false)

	// Cache settings
	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	// Vault settings
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "echo-civic")

	// Observability settings
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "echo-civic-assistant")
	cfg.Observability.EnableTracing = getEnvBool("ENABLE_TRACING", false)
	cfg.Observability.OpenAPISchema = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// IsProduction reports whether the server runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
