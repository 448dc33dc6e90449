package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline" toml:"pipeline"`
	Remote   RemoteConfig   `json:"remote" yaml:"remote" toml:"remote"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" toml:"journal"`
	Logger   LoggerConfig   `json:"logger" yaml:"logger" toml:"logger"`
	DryRun   bool           `json:"dry_run" yaml:"dry_run" toml:"dry_run"` // If true, no transfers or transform runs are performed
}

// Validate validates the entire configuration
func (ac *AppConfig) Validate() error {
	if err := ac.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config error: %w", err)
	}
	if err := ac.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config error: %w", err)
	}
	if err := ac.Journal.Validate(); err != nil {
		return fmt.Errorf("journal config error: %w", err)
	}
	if err := ac.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config error: %w", err)
	}
	return nil
}

// ApplyDefaults applies default values to all components
func (ac *AppConfig) ApplyDefaults() {
	ac.Pipeline.ApplyDefaults()
	ac.Remote.Common.ApplyDefaults()
	ac.Logger.ApplyDefaults()

	if ac.Remote.FTP != nil {
		ac.Remote.FTP.ApplyDefaults()
	}
	if ac.Journal.Bbolt != nil {
		ac.Journal.Bbolt.ApplyDefaults()
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	// General configuration
	cfg.DryRun = getEnvBool("DRY_RUN", false)

	// Logger configuration
	cfg.Logger.Level = LogLevel(getEnv("LOG_LEVEL", string(LogLevelInfo)))

	// Pipeline configuration
	cfg.Pipeline = PipelineConfig{
		CaselistPath:       getEnv("CASELIST_FILE", ""),
		GroupName:          getEnv("GROUP_NAME", ""),
		LocalRoot:          getEnv("LOCAL_DATA_ROOT", ""),
		RemoteRoot:         getEnv("REMOTE_DATA_ROOT", ""),
		SourceSubpath:      getEnv("SOURCE_SUBPATH", ""),
		OutputDirName:      getEnv("OUTPUT_DIR_NAME", ""),
		StartIndex:         getEnvInt("START_INDEX", 1),
		EndIndex:           getEnvInt("END_INDEX", 0),
		BatchSize:          getEnvInt("BATCH_SIZE", 0),
		Appendage:          getEnv("APPENDAGE", ""),
		AppendagePattern:   getEnv("APPENDAGE_PATTERN", ""),
		FileSubstring:      getEnv("FILE_SUBSTRING", ""),
		AllowedSuffixes:    getEnvList("ALLOWED_SUFFIXES"),
		AdditionalFilesDir: getEnv("ADDITIONAL_FILES_DIR", ""),
		ManifestPath:       getEnv("MANIFEST_PATH", ""),
		ModelDir:           getEnv("MODEL_DIR", ""),
		TransformCommand:   getEnv("TRANSFORM_COMMAND", ""),
		RunLogName:         getEnv("RUN_LOG_NAME", ""),
		LocalLogPath:       getEnv("LOCAL_LOG_PATH", ""),
		Parallel:           getEnvBool("MULTIPROCESSING", true),
	}

	// Remote configuration
	cfg.Remote.RemoteType = RemoteType(getEnv("REMOTE_TYPE", string(RemoteTypeS3)))
	cfg.Remote.Common.WorkerCount = getEnvInt("REMOTE_WORKER_COUNT", 0)
	cfg.Remote.Common.TimeoutSeconds = getEnvInt("REMOTE_TIMEOUT_SECONDS", 0)
	cfg.Remote.Common.MaxRetries = getEnvInt("REMOTE_MAX_RETRIES", 0)
	cfg.Remote.Common.MaxRPS = getEnvInt("REMOTE_MAX_RPS", 0)

	cfg.Remote.S3 = &S3Config{
		Region:          getEnv("S3_REGION", ""),
		Bucket:          getEnv("S3_BUCKET", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
	}

	cfg.Remote.FTP = &FTPConfig{
		Host:     getEnv("FTP_HOST", ""),
		Port:     getEnvInt("FTP_PORT", 21),
		Username: getEnv("FTP_USERNAME", ""),
		Password: getEnv("FTP_PASSWORD", ""),
		BasePath: getEnv("FTP_BASE_PATH", "/"),
		UseTLS:   getEnvBool("FTP_USE_TLS", false),
	}

	// Journal configuration
	cfg.Journal.JournalType = JournalType(getEnv("JOURNAL_TYPE", string(JournalTypeBbolt)))
	cfg.Journal.Bbolt = &BboltConfig{
		Path:   getEnv("JOURNAL_BBOLT_PATH", "./journal.db"),
		Bucket: getEnv("JOURNAL_BBOLT_BUCKET", "outcomes"),
		Mode:   0600,
		NoSync: getEnvBool("JOURNAL_BBOLT_NO_SYNC", false),
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
