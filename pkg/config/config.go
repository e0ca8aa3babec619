package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callinsight-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	Store          StoreConfig          `json:"store"`
	Queue          QueueConfig          `json:"queue"`
	Pipeline       PipelineConfig       `json:"pipeline"`
	STT            STTConfig            `json:"stt"`
	Analysis       AnalysisConfig       `json:"analysis"`
	Embedding      EmbeddingConfig      `json:"embedding"`
	Alerting       AlertingConfig       `json:"alerting"`
	Insights       InsightsConfig       `json:"insights"`
	Messaging      MessagingConfig      `json:"messaging"`
	Metrics        MetricsConfig        `json:"metrics"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Logging        LoggingConfig        `json:"logging"`
}

// StoreConfig selects and configures the call record store backend
type StoreConfig struct {
	// Backend is "memory" or "mysql"
	Backend string      `json:"backend"`
	MySQL   MySQLConfig `json:"mysql"`
}

// MySQLConfig holds MySQL connection settings
type MySQLConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SSLMode         string        `json:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
}

// QueueConfig selects and configures the task queue backend
type QueueConfig struct {
	// Backend is "memory" or "sqs"
	Backend string `json:"backend"`

	// VisibilityTimeout is the lease granted on a received message. A
	// worker that neither acknowledges nor extends within this window
	// loses the message back to the queue.
	VisibilityTimeout time.Duration `json:"visibility_timeout"`

	// ReceiveWaitTime is the long-poll duration for an empty queue
	ReceiveWaitTime time.Duration `json:"receive_wait_time"`

	SQS SQSConfig `json:"sqs"`
}

// SQSConfig holds the per-stage queue URLs for the SQS backend
type SQSConfig struct {
	Region                string `json:"region"`
	Endpoint              string `json:"endpoint"`
	TranscriptionQueueURL string `json:"transcription_queue_url"`
	AnalysisQueueURL      string `json:"analysis_queue_url"`
	EmbeddingQueueURL     string `json:"embedding_queue_url"`
	DeadLetterQueueURL    string `json:"dead_letter_queue_url"`
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	TranscriptionWorkers int `json:"transcription_workers"`
	AnalysisWorkers      int `json:"analysis_workers"`
	EmbeddingWorkers     int `json:"embedding_workers"`

	// StageTimeout bounds a single capability attempt
	StageTimeout time.Duration `json:"stage_timeout"`

	// MaxAttempts is the per-stage attempt budget before a call is failed
	MaxAttempts int `json:"max_attempts"`

	// SweepStaleAfter marks how long a call may sit in a processing status
	// before the sweeper re-enqueues its stage task
	SweepStaleAfter time.Duration `json:"sweep_stale_after"`
	SweepInterval   time.Duration `json:"sweep_interval"`
}

// STTConfig holds speech-to-text provider configuration
type STTConfig struct {
	SupportedProviders []string `json:"supported_providers"`
	DefaultProvider    string   `json:"default_provider"`
	Language           string   `json:"language"`

	Google GoogleSTTConfig `json:"google"`
	Amazon AmazonSTTConfig `json:"amazon"`
}

// GoogleSTTConfig holds Google Speech-to-Text settings
type GoogleSTTConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentials_file"`
	APIKey          string `json:"-"`
	Model           string `json:"model"`
	SampleRate      int    `json:"sample_rate"`
}

// AmazonSTTConfig holds Amazon Transcribe settings
type AmazonSTTConfig struct {
	Enabled    bool   `json:"enabled"`
	Region     string `json:"region"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

// AnalysisConfig holds LLM analysis provider configuration
type AnalysisConfig struct {
	// Provider is "anthropic", "bedrock", or "mock"
	Provider string `json:"provider"`

	AnthropicAPIKey string `json:"-"`
	AnthropicModel  string `json:"anthropic_model"`

	BedrockModelID string `json:"bedrock_model_id"`
	BedrockRegion  string `json:"bedrock_region"`

	MaxTokens      int           `json:"max_tokens"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// EmbeddingConfig holds transcript embedding configuration
type EmbeddingConfig struct {
	Enabled   bool          `json:"enabled"`
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"-"`
	Model     string        `json:"model"`
	Dimension int           `json:"dimension"`
	Timeout   time.Duration `json:"timeout"`
}

// AlertingConfig holds alert engine and notification configuration
type AlertingConfig struct {
	Enabled   bool   `json:"enabled"`
	RulesFile string `json:"rules_file"`

	SlackToken    string        `json:"-"`
	SlackChannel  string        `json:"slack_channel"`
	WebhookURL    string        `json:"webhook_url"`
	NotifyTimeout time.Duration `json:"notify_timeout"`

	// FailureRateThreshold triggers a daily metric alert when the share of
	// failed calls crosses it
	FailureRateThreshold float64 `json:"failure_rate_threshold"`
}

// InsightsConfig holds the daily aggregation job configuration
type InsightsConfig struct {
	Enabled bool `json:"enabled"`

	// Schedule is a cron expression for the daily rollup
	Schedule  string `json:"schedule"`
	ExportDir string `json:"export_dir"`

	Elasticsearch ElasticsearchConfig `json:"elasticsearch"`
}

// ElasticsearchConfig holds analyzed-call indexing configuration
type ElasticsearchConfig struct {
	Enabled   bool          `json:"enabled"`
	Addresses []string      `json:"addresses"`
	Index     string        `json:"index"`
	Username  string        `json:"username"`
	Password  string        `json:"-"`
	Timeout   time.Duration `json:"timeout"`
}

// MessagingConfig holds lifecycle event publishing configuration
type MessagingConfig struct {
	Enabled        bool          `json:"enabled"`
	AMQPUrl        string        `json:"-"`
	Exchange       string        `json:"exchange"`
	RoutingPrefix  string        `json:"routing_prefix"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address"`
}

// CircuitBreakerConfig holds per-capability circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled bool `json:"enabled"`

	STTFailureThreshold int64         `json:"stt_failure_threshold"`
	STTTimeout          time.Duration `json:"stt_timeout"`

	AnalysisFailureThreshold int64         `json:"analysis_failure_threshold"`
	AnalysisTimeout          time.Duration `json:"analysis_timeout"`

	EmbeddingFailureThreshold int64         `json:"embedding_failure_threshold"`
	EmbeddingTimeout          time.Duration `json:"embedding_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	OutputFile string `json:"output_file"`
}

// Load reads configuration from .env files and environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	// Get current working directory
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Define possible locations for .env file
	possibleEnvFiles := []string{
		".env",                    // Current directory
		"../.env",                 // Parent directory
		filepath.Join(wd, ".env"), // Absolute path
	}

	// Try loading .env file from each possible location
	var loadedFrom string
	var loadErr error

	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr = godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	// If all attempts failed, try default Load() which uses working directory
	if loadedFrom == "" {
		if loadErr = godotenv.Load(); loadErr == nil {
			if _, statErr := os.Stat(".env"); statErr == nil {
				loadedFrom, _ = filepath.Abs(".env")
			}
		}
	}

	// Report results
	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
	}

	config := &Config{}

	// Load store configuration
	if err := loadStoreConfig(logger, &config.Store); err != nil {
		return nil, errors.Wrap(err, "failed to load store configuration")
	}

	// Load queue configuration
	if err := loadQueueConfig(logger, &config.Queue); err != nil {
		return nil, errors.Wrap(err, "failed to load queue configuration")
	}

	// Load pipeline configuration
	if err := loadPipelineConfig(logger, &config.Pipeline); err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}

	// Load STT configuration
	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load STT configuration")
	}

	// Load analysis configuration
	if err := loadAnalysisConfig(logger, &config.Analysis); err != nil {
		return nil, errors.Wrap(err, "failed to load analysis configuration")
	}

	// Load embedding configuration
	if err := loadEmbeddingConfig(logger, &config.Embedding); err != nil {
		return nil, errors.Wrap(err, "failed to load embedding configuration")
	}

	// Load alerting configuration
	if err := loadAlertingConfig(logger, &config.Alerting); err != nil {
		return nil, errors.Wrap(err, "failed to load alerting configuration")
	}

	// Load insights configuration
	if err := loadInsightsConfig(logger, &config.Insights); err != nil {
		return nil, errors.Wrap(err, "failed to load insights configuration")
	}

	// Load messaging configuration
	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}

	// Load metrics configuration
	if err := loadMetricsConfig(logger, &config.Metrics); err != nil {
		return nil, errors.Wrap(err, "failed to load metrics configuration")
	}

	// Load circuit breaker configuration
	if err := loadCircuitBreakerConfig(logger, &config.CircuitBreaker); err != nil {
		return nil, errors.Wrap(err, "failed to load circuit breaker configuration")
	}

	// Load logging configuration
	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	// Validate the complete configuration
	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	// Ensure required directories exist
	if err := ensureDirectories(logger, config); err != nil {
		return nil, errors.Wrap(err, "failed to create required directories")
	}

	return config, nil
}

// loadStoreConfig loads the store configuration section
func loadStoreConfig(logger *logrus.Logger, config *StoreConfig) error {
	config.Backend = strings.ToLower(getEnv("STORE_BACKEND", "memory"))
	if config.Backend != "memory" && config.Backend != "mysql" {
		logger.Warnf("Invalid STORE_BACKEND '%s', using default: memory", config.Backend)
		config.Backend = "memory"
	}

	config.MySQL.Host = getEnv("MYSQL_HOST", "localhost")
	config.MySQL.Port = getEnvInt("MYSQL_PORT", 3306)
	config.MySQL.Database = getEnv("MYSQL_DATABASE", "callinsight")
	config.MySQL.Username = getEnv("MYSQL_USERNAME", "callinsight")
	config.MySQL.Password = getEnv("MYSQL_PASSWORD", "")
	config.MySQL.SSLMode = getEnv("MYSQL_SSL_MODE", "")

	config.MySQL.MaxOpenConns = getEnvInt("MYSQL_MAX_OPEN_CONNS", 25)
	if config.MySQL.MaxOpenConns < 1 {
		logger.Warn("Invalid MYSQL_MAX_OPEN_CONNS value, using default: 25")
		config.MySQL.MaxOpenConns = 25
	}

	config.MySQL.MaxIdleConns = getEnvInt("MYSQL_MAX_IDLE_CONNS", 10)
	if config.MySQL.MaxIdleConns < 1 {
		logger.Warn("Invalid MYSQL_MAX_IDLE_CONNS value, using default: 10")
		config.MySQL.MaxIdleConns = 10
	}

	config.MySQL.ConnMaxLifetime = getEnvDuration("MYSQL_CONN_MAX_LIFETIME", 30*time.Minute)
	config.MySQL.ConnMaxIdleTime = getEnvDuration("MYSQL_CONN_MAX_IDLE_TIME", 10*time.Minute)
	config.MySQL.ConnectTimeout = getEnvDuration("MYSQL_CONNECT_TIMEOUT", 30*time.Second)

	if config.Backend == "mysql" {
		logger.WithFields(logrus.Fields{
			"host":     config.MySQL.Host,
			"port":     config.MySQL.Port,
			"database": config.MySQL.Database,
		}).Info("Configured MySQL call record store")
	} else {
		logger.Info("Using in-memory call record store")
	}

	return nil
}

// loadQueueConfig loads the queue configuration section
func loadQueueConfig(logger *logrus.Logger, config *QueueConfig) error {
	config.Backend = strings.ToLower(getEnv("QUEUE_BACKEND", "memory"))
	if config.Backend != "memory" && config.Backend != "sqs" {
		logger.Warnf("Invalid QUEUE_BACKEND '%s', using default: memory", config.Backend)
		config.Backend = "memory"
	}

	config.VisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute)
	if config.VisibilityTimeout < 10*time.Second {
		logger.Warn("QUEUE_VISIBILITY_TIMEOUT below 10s, using default: 5m")
		config.VisibilityTimeout = 5 * time.Minute
	}

	config.ReceiveWaitTime = getEnvDuration("QUEUE_RECEIVE_WAIT", 10*time.Second)
	if config.ReceiveWaitTime < 0 || config.ReceiveWaitTime > 20*time.Second {
		logger.Warn("QUEUE_RECEIVE_WAIT must be within [0s, 20s], using default: 10s")
		config.ReceiveWaitTime = 10 * time.Second
	}

	config.SQS.Region = getEnv("SQS_REGION", getEnv("AWS_REGION", "us-east-1"))
	config.SQS.Endpoint = getEnv("SQS_ENDPOINT", "")
	config.SQS.TranscriptionQueueURL = getEnv("SQS_TRANSCRIPTION_QUEUE_URL", "")
	config.SQS.AnalysisQueueURL = getEnv("SQS_ANALYSIS_QUEUE_URL", "")
	config.SQS.EmbeddingQueueURL = getEnv("SQS_EMBEDDING_QUEUE_URL", "")
	config.SQS.DeadLetterQueueURL = getEnv("SQS_DEAD_LETTER_QUEUE_URL", "")

	return nil
}

// loadPipelineConfig loads the pipeline configuration section
func loadPipelineConfig(logger *logrus.Logger, config *PipelineConfig) error {
	config.TranscriptionWorkers = getEnvInt("TRANSCRIPTION_WORKERS", 4)
	if config.TranscriptionWorkers < 1 || config.TranscriptionWorkers > 100 {
		logger.Warn("Invalid TRANSCRIPTION_WORKERS value, using default: 4")
		config.TranscriptionWorkers = 4
	}

	config.AnalysisWorkers = getEnvInt("ANALYSIS_WORKERS", 2)
	if config.AnalysisWorkers < 1 || config.AnalysisWorkers > 100 {
		logger.Warn("Invalid ANALYSIS_WORKERS value, using default: 2")
		config.AnalysisWorkers = 2
	}

	config.EmbeddingWorkers = getEnvInt("EMBEDDING_WORKERS", 2)
	if config.EmbeddingWorkers < 1 || config.EmbeddingWorkers > 100 {
		logger.Warn("Invalid EMBEDDING_WORKERS value, using default: 2")
		config.EmbeddingWorkers = 2
	}

	config.StageTimeout = getEnvDuration("STAGE_TIMEOUT", 120*time.Second)
	if config.StageTimeout < time.Second {
		logger.Warn("Invalid STAGE_TIMEOUT value, using default: 120s")
		config.StageTimeout = 120 * time.Second
	}

	config.MaxAttempts = getEnvInt("STAGE_MAX_ATTEMPTS", 3)
	if config.MaxAttempts < 1 || config.MaxAttempts > 10 {
		logger.Warn("Invalid STAGE_MAX_ATTEMPTS value, using default: 3")
		config.MaxAttempts = 3
	}

	config.SweepStaleAfter = getEnvDuration("SWEEP_STALE_AFTER", 15*time.Minute)
	config.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)

	logger.WithFields(logrus.Fields{
		"transcription_workers": config.TranscriptionWorkers,
		"analysis_workers":      config.AnalysisWorkers,
		"embedding_workers":     config.EmbeddingWorkers,
		"stage_timeout":         config.StageTimeout,
		"max_attempts":          config.MaxAttempts,
	}).Info("Configured pipeline")

	return nil
}

// loadSTTConfig loads the STT configuration section
func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	providersStr := getEnv("STT_PROVIDERS", "google,amazon")
	providers := strings.Split(providersStr, ",")
	for i, provider := range providers {
		providers[i] = strings.TrimSpace(provider)
	}
	config.SupportedProviders = providers
	logger.WithField("providers", config.SupportedProviders).Info("Configured STT providers")

	config.DefaultProvider = getEnv("STT_DEFAULT_PROVIDER", "google")
	config.Language = getEnv("STT_LANGUAGE", "en-US")

	// Validate that the default provider is in the supported providers list
	found := false
	for _, provider := range config.SupportedProviders {
		if provider == config.DefaultProvider {
			found = true
			break
		}
	}
	if !found {
		logger.Warnf("Default provider '%s' is not in the supported providers list, adding it", config.DefaultProvider)
		config.SupportedProviders = append(config.SupportedProviders, config.DefaultProvider)
	}

	config.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", true)
	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.Model = getEnv("GOOGLE_STT_MODEL", "latest_long")
	config.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 16000)

	config.Amazon.Enabled = getEnvBool("AMAZON_STT_ENABLED", false)
	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.Language = getEnv("AMAZON_STT_LANGUAGE", "en-US")
	config.Amazon.SampleRate = getEnvInt("AMAZON_STT_SAMPLE_RATE", 16000)

	return nil
}

// loadAnalysisConfig loads the analysis configuration section
func loadAnalysisConfig(logger *logrus.Logger, config *AnalysisConfig) error {
	config.Provider = strings.ToLower(getEnv("ANALYSIS_PROVIDER", "anthropic"))
	if config.Provider != "anthropic" && config.Provider != "bedrock" && config.Provider != "mock" {
		logger.Warnf("Invalid ANALYSIS_PROVIDER '%s', using default: anthropic", config.Provider)
		config.Provider = "anthropic"
	}

	config.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", "")
	config.AnthropicModel = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")

	config.BedrockModelID = getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0")
	config.BedrockRegion = getEnv("BEDROCK_REGION", getEnv("AWS_REGION", "us-east-1"))

	config.MaxTokens = getEnvInt("ANALYSIS_MAX_TOKENS", 4096)
	if config.MaxTokens < 256 {
		logger.Warn("Invalid ANALYSIS_MAX_TOKENS value, using default: 4096")
		config.MaxTokens = 4096
	}

	config.RequestTimeout = getEnvDuration("ANALYSIS_REQUEST_TIMEOUT", 120*time.Second)

	logger.WithFields(logrus.Fields{
		"provider":   config.Provider,
		"max_tokens": config.MaxTokens,
	}).Info("Configured analysis provider")

	return nil
}

// loadEmbeddingConfig loads the embedding configuration section
func loadEmbeddingConfig(logger *logrus.Logger, config *EmbeddingConfig) error {
	config.Enabled = getEnvBool("EMBEDDING_ENABLED", true)
	config.BaseURL = getEnv("EMBEDDING_BASE_URL", "https://api.voyageai.com/v1/embeddings")
	config.APIKey = getEnv("VOYAGE_API_KEY", "")
	config.Model = getEnv("EMBEDDING_MODEL", "voyage-3")

	config.Dimension = getEnvInt("EMBEDDING_DIMENSION", 1024)
	if config.Dimension < 1 {
		logger.Warn("Invalid EMBEDDING_DIMENSION value, using default: 1024")
		config.Dimension = 1024
	}

	config.Timeout = getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second)

	if config.Enabled && config.APIKey == "" {
		logger.Warn("Embedding enabled but VOYAGE_API_KEY is not set")
	}

	return nil
}

// loadAlertingConfig loads the alerting configuration section
func loadAlertingConfig(logger *logrus.Logger, config *AlertingConfig) error {
	config.Enabled = getEnvBool("ALERTING_ENABLED", true)
	config.RulesFile = getEnv("ALERTING_RULES_FILE", "")

	config.SlackToken = getEnv("SLACK_TOKEN", "")
	config.SlackChannel = getEnv("SLACK_ALERT_CHANNEL", "")
	config.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	config.NotifyTimeout = getEnvDuration("ALERT_NOTIFY_TIMEOUT", 10*time.Second)

	config.FailureRateThreshold = getEnvFloat("ALERT_FAILURE_RATE_THRESHOLD", 0.25)
	if config.FailureRateThreshold <= 0 || config.FailureRateThreshold > 1 {
		logger.Warn("Invalid ALERT_FAILURE_RATE_THRESHOLD value, using default: 0.25")
		config.FailureRateThreshold = 0.25
	}

	if config.Enabled {
		logger.WithFields(logrus.Fields{
			"slack":   config.SlackChannel != "",
			"webhook": config.WebhookURL != "",
		}).Info("Alerting enabled")
	} else {
		logger.Debug("Alerting disabled")
	}

	return nil
}

// loadInsightsConfig loads the insights configuration section
func loadInsightsConfig(logger *logrus.Logger, config *InsightsConfig) error {
	config.Enabled = getEnvBool("INSIGHTS_ENABLED", true)
	config.Schedule = getEnv("INSIGHTS_SCHEDULE", "10 0 * * *")
	config.ExportDir = getEnv("INSIGHTS_EXPORT_DIR", "./exports")

	config.Elasticsearch.Enabled = getEnvBool("ELASTICSEARCH_ENABLED", false)
	addressesStr := getEnv("ELASTICSEARCH_ADDRESSES", "http://localhost:9200")
	addresses := strings.Split(addressesStr, ",")
	for i, address := range addresses {
		addresses[i] = strings.TrimSpace(address)
	}
	config.Elasticsearch.Addresses = addresses
	config.Elasticsearch.Index = getEnv("ELASTICSEARCH_INDEX", "callinsight-calls")
	config.Elasticsearch.Username = getEnv("ELASTICSEARCH_USERNAME", "")
	config.Elasticsearch.Password = getEnv("ELASTICSEARCH_PASSWORD", "")
	config.Elasticsearch.Timeout = getEnvDuration("ELASTICSEARCH_TIMEOUT", 10*time.Second)

	return nil
}

// loadMessagingConfig loads the messaging configuration section
func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.Enabled = config.AMQPUrl != ""
	config.Exchange = getEnv("AMQP_EXCHANGE_NAME", "callinsight.events")
	config.RoutingPrefix = getEnv("AMQP_ROUTING_PREFIX", "call")
	config.PublishTimeout = getEnvDuration("AMQP_PUBLISH_TIMEOUT", 5*time.Second)

	if config.Enabled {
		logger.WithField("exchange", config.Exchange).Info("Configured lifecycle event publishing")
	} else {
		logger.Debug("AMQP_URL not set, lifecycle event publishing disabled")
	}

	return nil
}

// loadMetricsConfig loads the metrics configuration section
func loadMetricsConfig(logger *logrus.Logger, config *MetricsConfig) error {
	config.Enabled = getEnvBool("METRICS_ENABLED", true)
	config.ListenAddress = getEnv("METRICS_LISTEN_ADDRESS", ":9090")

	return nil
}

// loadCircuitBreakerConfig loads the circuit breaker configuration section
func loadCircuitBreakerConfig(logger *logrus.Logger, config *CircuitBreakerConfig) error {
	config.Enabled = getEnvBool("CIRCUIT_BREAKER_ENABLED", true)

	config.STTFailureThreshold = int64(getEnvInt("STT_CB_FAILURE_THRESHOLD", 3))
	config.STTTimeout = getEnvDuration("STT_CB_TIMEOUT", 30*time.Second)

	config.AnalysisFailureThreshold = int64(getEnvInt("ANALYSIS_CB_FAILURE_THRESHOLD", 3))
	config.AnalysisTimeout = getEnvDuration("ANALYSIS_CB_TIMEOUT", 60*time.Second)

	config.EmbeddingFailureThreshold = int64(getEnvInt("EMBEDDING_CB_FAILURE_THRESHOLD", 5))
	config.EmbeddingTimeout = getEnvDuration("EMBEDDING_CB_TIMEOUT", 30*time.Second)

	return nil
}

// loadLoggingConfig loads the logging configuration section
func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	// Load log level
	config.Level = getEnv("LOG_LEVEL", "info")

	// Validate log level
	_, err := logrus.ParseLevel(config.Level)
	if err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	// Load log format
	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	// Load log output file
	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

// validateConfig performs cross-section validation of the configuration
func validateConfig(logger *logrus.Logger, config *Config) error {
	if config.Store.Backend == "mysql" {
		if config.Store.MySQL.Host == "" || config.Store.MySQL.Database == "" {
			return errors.New("MySQL store selected but MYSQL_HOST or MYSQL_DATABASE is empty")
		}
		if config.Store.MySQL.Password == "" {
			logger.Warn("MYSQL_PASSWORD is empty")
		}
	}

	if config.Queue.Backend == "sqs" {
		if config.Queue.SQS.TranscriptionQueueURL == "" ||
			config.Queue.SQS.AnalysisQueueURL == "" ||
			config.Queue.SQS.EmbeddingQueueURL == "" {
			return errors.New("SQS queue selected but one of SQS_TRANSCRIPTION_QUEUE_URL, SQS_ANALYSIS_QUEUE_URL, SQS_EMBEDDING_QUEUE_URL is empty")
		}
		if config.Queue.SQS.DeadLetterQueueURL == "" {
			logger.Warn("SQS_DEAD_LETTER_QUEUE_URL not set, exhausted tasks will only be logged")
		}
	}

	if config.Pipeline.SweepInterval >= config.Pipeline.SweepStaleAfter {
		logger.Warn("SWEEP_INTERVAL should be smaller than SWEEP_STALE_AFTER for effective recovery")
	}

	if config.Analysis.Provider == "anthropic" && config.Analysis.AnthropicAPIKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, analysis requests will fail until provided")
	}

	if config.Insights.Elasticsearch.Enabled {
		if len(config.Insights.Elasticsearch.Addresses) == 0 {
			return errors.New("Elasticsearch enabled but ELASTICSEARCH_ADDRESSES is empty")
		}
		if strings.TrimSpace(config.Insights.Elasticsearch.Index) == "" {
			return errors.New("Elasticsearch enabled but ELASTICSEARCH_INDEX is empty")
		}
	}

	// Validate logging configuration
	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// ensureDirectories ensures that required directories exist
func ensureDirectories(logger *logrus.Logger, config *Config) error {
	if config.Insights.Enabled {
		if err := os.MkdirAll(config.Insights.ExportDir, 0755); err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to create export directory: %s", config.Insights.ExportDir))
		}
	}

	return nil
}

// ApplyLogging applies the configuration to the logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	// Set log level
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	// Set log format
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	// Set log output
	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
