package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the wellpipe service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Telemetry ingestion configuration
	SampleInterval      time.Duration // expected cadence between samples per well
	MaxPastSkew         time.Duration // oldest acceptable reading timestamp
	MaxFutureSkew       time.Duration // newest acceptable reading timestamp
	MissingFieldPenalty float64
	RangePenalty        float64
	JitterPenalty       float64

	// Anomaly detection configuration
	AnomalyMethod        string  // "spc" or "threshold"
	AnomalyWindowSize    int
	AnomalyThreshold     float64 // score at or above which an anomaly is recorded
	AnomalyWarnThreshold float64 // score band boundary info -> warning
	AnomalyCritThreshold float64 // score band boundary warning -> critical
	SPCSigmaMultiplier   float64

	// Report configuration
	MinQualityScore   float64
	MaxMissingSamples int
	GenerationTime    string // HH:MM, local service time
	UploadTime        string // HH:MM

	// Upload retry configuration
	UploadMaxAttempts    int
	UploadInitialBackoff time.Duration
	UploadMaxBackoff     time.Duration
	UploadStaleTimeout   time.Duration // UPLOADING older than this is considered stuck
	WatchdogInterval     time.Duration

	// Regulator delivery configuration
	RegulatorURL    string
	RegulatorAPIKey string
	DeliveryTimeout time.Duration

	// RabbitMQ configuration
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQExchange string
	AlertRoutingKey  string

	// SendGrid configuration
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string
	AlertEmails       string // comma-separated recipients for critical alerts

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "wellpipe"),

		// Server defaults
		Port: getEnv("PORT", "9110"),

		// Telemetry defaults: one sample per 10 minutes, 144 samples/day
		SampleInterval:      getDurationEnv("SAMPLE_INTERVAL", 10*time.Minute),
		MaxPastSkew:         getDurationEnv("MAX_PAST_SKEW", 24*time.Hour),
		MaxFutureSkew:       getDurationEnv("MAX_FUTURE_SKEW", 5*time.Minute),
		MissingFieldPenalty: getFloatEnv("MISSING_FIELD_PENALTY", 5.0),
		RangePenalty:        getFloatEnv("RANGE_PENALTY", 10.0),
		JitterPenalty:       getFloatEnv("JITTER_PENALTY", 5.0),

		// Anomaly detection defaults
		AnomalyMethod:        getEnv("ANOMALY_METHOD", "spc"),
		AnomalyWindowSize:    getIntEnv("ANOMALY_WINDOW_SIZE", 36),
		AnomalyThreshold:     getFloatEnv("ANOMALY_THRESHOLD", 0.8),
		AnomalyWarnThreshold: getFloatEnv("ANOMALY_WARN_THRESHOLD", 0.8),
		AnomalyCritThreshold: getFloatEnv("ANOMALY_CRIT_THRESHOLD", 0.95),
		SPCSigmaMultiplier:   getFloatEnv("SPC_SIGMA_MULTIPLIER", 3.0),

		// Report defaults, per regulator requirements
		MinQualityScore:   getFloatEnv("MIN_QUALITY_SCORE", 95.0),
		MaxMissingSamples: getIntEnv("MAX_MISSING_SAMPLES", 10),
		GenerationTime:    getEnv("REPORT_GENERATION_TIME", "06:00"),
		UploadTime:        getEnv("REPORT_UPLOAD_TIME", "06:50"),

		// Upload retry defaults
		UploadMaxAttempts:    getIntEnv("UPLOAD_MAX_ATTEMPTS", 5),
		UploadInitialBackoff: getDurationEnv("UPLOAD_INITIAL_BACKOFF", 30*time.Second),
		UploadMaxBackoff:     getDurationEnv("UPLOAD_MAX_BACKOFF", 10*time.Minute),
		UploadStaleTimeout:   getDurationEnv("UPLOAD_STALE_TIMEOUT", 30*time.Minute),
		WatchdogInterval:     getDurationEnv("WATCHDOG_INTERVAL", 5*time.Minute),

		// Regulator delivery defaults
		RegulatorURL:    getEnv("REGULATOR_URL", ""),
		RegulatorAPIKey: getEnv("REGULATOR_API_KEY", ""),
		DeliveryTimeout: getDurationEnv("DELIVERY_TIMEOUT", 60*time.Second),

		// RabbitMQ defaults
		RabbitMQHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:     getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "wellpipe"),
		AlertRoutingKey:  getEnv("ALERT_ROUTING_KEY", "alerts.raised"),

		// SendGrid defaults
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "WellPipe Alerts"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "alerts@wellpipe.local"),
		AlertEmails:       getEnv("ALERT_EMAILS", ""),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ExpectedSamplesPerDay derives the daily sample budget from the cadence.
func (c *Config) ExpectedSamplesPerDay() int {
	if c.SampleInterval <= 0 {
		return 0
	}
	return int((24 * time.Hour) / c.SampleInterval)
}

// GetAMQPURL builds the AMQP connection URL
func (c *Config) GetAMQPURL() string {
	return "amqp://" + c.RabbitMQUser + ":" + c.RabbitMQPassword + "@" + c.RabbitMQHost + ":" + c.RabbitMQPort + "/"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
