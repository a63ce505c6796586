package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config, servisin ihtiyaç duyduğu tüm yapılandırma değerlerini içerir.
type Config struct {
	Env      string
	LogLevel string

	HTTPPort    string
	GRPCPort    string
	MetricsPort string

	DBDriver    string
	PostgresURL string
	SQLitePath  string
	RedisURL    string
	RabbitMQURL string

	AgentWSURL  string
	AgentAPIKey string

	TelephonyAPIURL     string
	TelephonyAccountSID string
	TelephonyAuthToken  string

	OwnerSMSNumber      string
	SMSFromNumber       string
	OwnerWhatsAppNumber string
	WhatsAppFromNumber  string
	RecordingBaseURL    string

	TransferURL string
	NoAnswerURL string
	ApologyURL  string

	PersonaFile     string
	DefaultLanguage string
	AudioCaptureDir string

	AgentDialAttempts int
	AutoMigrate       bool

	MaxCallDuration        time.Duration
	RecordingFallbackDelay time.Duration
	TransferGracePeriod    time.Duration
	ShutdownTimeout        time.Duration
}

// Load, .env dosyasından ve ortam değişkenlerinden yapılandırmayı yükler.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnvWithDefault("ENV", "production"),
		LogLevel: strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),

		HTTPPort:    getEnvWithDefault("HTTP_PORT", "8080"),
		GRPCPort:    getEnvWithDefault("GRPC_PORT", "12031"),
		MetricsPort: getEnvWithDefault("METRICS_PORT", "9091"),

		DBDriver:    getEnvWithDefault("DB_DRIVER", "postgres"),
		PostgresURL: getEnv("POSTGRES_URL"),
		SQLitePath:  getEnvWithDefault("SQLITE_PATH", "receptionist.db"),
		RedisURL:    getEnv("REDIS_URL"),
		RabbitMQURL: getEnv("RABBITMQ_URL"),

		AgentWSURL:  getEnv("AGENT_WS_URL"),
		AgentAPIKey: getEnv("AGENT_API_KEY"),

		TelephonyAPIURL:     getEnv("TELEPHONY_API_URL"),
		TelephonyAccountSID: getEnv("TELEPHONY_ACCOUNT_SID"),
		TelephonyAuthToken:  getEnv("TELEPHONY_AUTH_TOKEN"),

		OwnerSMSNumber:      getEnv("OWNER_SMS_NUMBER"),
		SMSFromNumber:       getEnv("SMS_FROM_NUMBER"),
		OwnerWhatsAppNumber: getEnv("OWNER_WHATSAPP_NUMBER"),
		WhatsAppFromNumber:  getEnv("WHATSAPP_FROM_NUMBER"),
		RecordingBaseURL:    getEnv("RECORDING_BASE_URL"),

		TransferURL: getEnv("TRANSFER_URL"),
		NoAnswerURL: getEnv("NO_ANSWER_URL"),
		ApologyURL:  getEnv("APOLOGY_URL"),

		PersonaFile:     getEnv("PERSONA_FILE"),
		DefaultLanguage: getEnvWithDefault("DEFAULT_LANGUAGE", "en"),
		AudioCaptureDir: getEnv("AUDIO_CAPTURE_DIR"),

		AutoMigrate: getBool("DB_AUTO_MIGRATE", true),
	}

	var err error
	if cfg.AgentDialAttempts, err = getInt("AGENT_DIAL_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxCallDuration, err = getDuration("MAX_CALL_DURATION", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RecordingFallbackDelay, err = getDuration("RECORDING_FALLBACK_DELAY", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.TransferGracePeriod, err = getDuration("TRANSFER_GRACE_PERIOD", 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForMigrate, yalnızca veritabanı göçü için gereken alanları doğrular.
func LoadForMigrate() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Env:         getEnvWithDefault("ENV", "production"),
		LogLevel:    strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		DBDriver:    getEnvWithDefault("DB_DRIVER", "postgres"),
		PostgresURL: getEnv("POSTGRES_URL"),
		SQLitePath:  getEnvWithDefault("SQLITE_PATH", "receptionist.db"),
	}
	if cfg.DBDriver == "postgres" && cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL eksik")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	require := func(key, val string) {
		if val == "" {
			missing = append(missing, key)
		}
	}

	switch c.DBDriver {
	case "postgres":
		require("POSTGRES_URL", c.PostgresURL)
	case "sqlite":
	default:
		return fmt.Errorf("geçersiz DB_DRIVER: %q (postgres|sqlite)", c.DBDriver)
	}
	require("RABBITMQ_URL", c.RabbitMQURL)
	require("AGENT_WS_URL", c.AgentWSURL)
	require("TELEPHONY_API_URL", c.TelephonyAPIURL)
	require("TELEPHONY_ACCOUNT_SID", c.TelephonyAccountSID)
	require("TELEPHONY_AUTH_TOKEN", c.TelephonyAuthToken)
	require("OWNER_SMS_NUMBER", c.OwnerSMSNumber)
	require("SMS_FROM_NUMBER", c.SMSFromNumber)
	require("TRANSFER_URL", c.TransferURL)
	require("NO_ANSWER_URL", c.NoAnswerURL)
	require("APOLOGY_URL", c.ApologyURL)
	if c.OwnerWhatsAppNumber != "" {
		require("WHATSAPP_FROM_NUMBER", c.WhatsAppFromNumber)
	}

	if len(missing) > 0 {
		return fmt.Errorf("kritik yapılandırma değerleri eksik: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsDevelopment, konsol çıktısı gibi geliştirme davranışlarını açar.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getEnvWithDefault(key, defaultValue string) string {
	val := getEnv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// getDuration hem "90s" gibi süre ifadelerini hem de düz saniye sayısını kabul eder.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := getEnv(key)
	if val == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s geçersiz süre: %q: %w", key, val, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	val := getEnv(key)
	if val == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s geçersiz sayı: %q: %w", key, val, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) bool {
	val := getEnv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}
