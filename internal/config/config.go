package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
// It is built once at process start and passed to each component.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// openSenseMap API.
	BoxID          string
	APIBaseURL     string
	APITimeout     time.Duration
	HistoryTimeout time.Duration
	APIRateLimit   float64

	// Ingestion.
	PollInterval time.Duration
	RunHistoric  bool
	BackfillDays int

	// Storage.
	DBDriver     string
	DBDSN        string
	DBMaxRetries int
	DBRetryDelay time.Duration

	// Analytics.
	SensorID          string
	TrainLimit        int
	AnomalyModelPath  string
	ForecastModelPath string
	ModelStore        string
	ModelCacheTTL     time.Duration
	DetectInterval    time.Duration
	ForecastHours     int

	// Redis artifact backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional detection publishing.
	KafkaBrokers         []string
	KafkaDetectionsTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BoxID:      sharedcfg.EnvOrDefault("SENSEBOX_ID", "5e7e9b94946d0c001b6e64b4"),
		APIBaseURL: sharedcfg.EnvOrDefault("OSEM_BASE_URL", "https://api.opensensemap.org"),

		DBDriver: sharedcfg.EnvOrDefault("DB_DRIVER", "sqlite"),
		DBDSN:    sharedcfg.EnvOrDefault("DB_DSN", "sensebox.db"),

		SensorID:          os.Getenv("ML_SENSOR_ID"),
		AnomalyModelPath:  sharedcfg.EnvOrDefault("MODEL_PATH", "model/anomaly_iforest.json"),
		ForecastModelPath: sharedcfg.EnvOrDefault("FORECAST_MODEL_PATH", "model/temp_forecast_lr.json"),
		ModelStore:        sharedcfg.EnvOrDefault("MODEL_STORE", "file"),

		RedisAddr:     sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaDetectionsTopic: sharedcfg.EnvOrDefault("KAFKA_DETECTIONS_TOPIC", "sensor-anomalies"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	durations := []struct {
		key  string
		def  string
		dst  *time.Duration
		zero bool // whether 0 is a valid value
	}{
		{"OSEM_TIMEOUT", "10s", &cfg.APITimeout, false},
		{"OSEM_HISTORY_TIMEOUT", "20s", &cfg.HistoryTimeout, false},
		{"DB_RETRY_DELAY", "5s", &cfg.DBRetryDelay, true},
		{"MODEL_CACHE_TTL", "0s", &cfg.ModelCacheTTL, true},
		{"DETECT_INTERVAL", "10s", &cfg.DetectInterval, false},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def, d.zero)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	pollSec, err := parsePositiveInt("POLL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(pollSec) * time.Second

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"BACKFILL_DAYS", 14, &cfg.BackfillDays},
		{"DB_MAX_RETRIES", 12, &cfg.DBMaxRetries},
		{"TRAIN_LIMIT", 10000, &cfg.TrainLimit},
		{"FORECAST_HOURS", 24, &cfg.ForecastHours},
	}
	for _, i := range ints {
		v, err := parsePositiveInt(i.key, i.def)
		if err != nil {
			return nil, err
		}
		*i.dst = v
	}

	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}
	cfg.RedisDB = redisDB

	rate, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OSEM_RATE_LIMIT", "5"), 64)
	if err != nil || rate <= 0 {
		return nil, errors.New("invalid OSEM_RATE_LIMIT")
	}
	cfg.APIRateLimit = rate

	runHistoric, err := strconv.ParseBool(sharedcfg.EnvOrDefault("RUN_HISTORIC", "true"))
	if err != nil {
		return nil, errors.New("invalid RUN_HISTORIC")
	}
	cfg.RunHistoric = runHistoric

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: must be \"sqlite\" or \"postgres\"", cfg.DBDriver)
	}
	switch cfg.ModelStore {
	case "file", "redis":
	default:
		return nil, fmt.Errorf("invalid MODEL_STORE %q: must be \"file\" or \"redis\"", cfg.ModelStore)
	}
	if cfg.BoxID == "" {
		return nil, errors.New("SENSEBOX_ID is required")
	}
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is required")
	}

	return cfg, nil
}

// KafkaEnabled reports whether detections should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
