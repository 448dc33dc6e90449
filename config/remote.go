// The remote configuration is designed to allow adding other object-store
// backends in the future. To do this, add a new RemoteType, update
// RemoteConfig, and define the validation for the new backend.
package config

import "fmt"

// RemoteType represents the type of remote storage backend
type RemoteType string

const (
	RemoteTypeS3  RemoteType = "s3"
	RemoteTypeFTP RemoteType = "ftp"
)

// RemoteConfig holds the configuration for the remote object store
type RemoteConfig struct {
	RemoteType RemoteType `json:"type" yaml:"type" toml:"type"`

	// Common options for all backends
	Common CommonRemoteConfig `json:"common,omitempty" yaml:"common,omitempty" toml:"common,omitempty"`

	// Type-specific configurations
	S3  *S3Config  `json:"s3,omitempty" yaml:"s3,omitempty" toml:"s3,omitempty"`
	FTP *FTPConfig `json:"ftp,omitempty" yaml:"ftp,omitempty" toml:"ftp,omitempty"`
}

// CommonRemoteConfig contains general settings applicable to all backends
type CommonRemoteConfig struct {
	WorkerCount    int `json:"worker_count,omitempty" yaml:"worker_count,omitempty" toml:"worker_count,omitempty"`          // optional: number of concurrent transfer workers
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"` // optional: per-request timeout in seconds
	MaxRetries     int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`             // optional: maximum number of retries for API calls
	MaxRPS         int `json:"max_rps,omitempty" yaml:"max_rps,omitempty" toml:"max_rps,omitempty"`                         // optional: maximum requests per second to the backend
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Region          string `json:"region" yaml:"region" toml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty" toml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty" toml:"secret_access_key,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"` // For S3-compatible services
}

// FTPConfig holds FTP-specific configuration
type FTPConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	BasePath string `json:"base_path,omitempty" yaml:"base_path,omitempty" toml:"base_path"` // Base path on the FTP server
	UseTLS   bool   `json:"use_tls,omitempty" yaml:"use_tls,omitempty" toml:"use_tls,omitempty"`
}

// Validate ensures the configuration is valid for the specified remote type
func (rc *RemoteConfig) Validate() error {
	if err := rc.Common.Validate(); err != nil {
		return err
	}

	switch rc.RemoteType {
	case RemoteTypeS3:
		if rc.S3 == nil {
			return fmt.Errorf("s3 configuration is required when type is 's3'")
		}
		return rc.S3.Validate()
	case RemoteTypeFTP:
		if rc.FTP == nil {
			return fmt.Errorf("ftp configuration is required when type is 'ftp'")
		}
		return rc.FTP.Validate()
	default:
		return fmt.Errorf("unsupported remote type: %s", rc.RemoteType)
	}
}

// Validate validates S3 configuration
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	// Static credentials are optional: when absent, the default AWS credential
	// chain (instance profile, env, shared config) is used.
	if s3c.AccessKeyID != "" && s3c.SecretAccessKey == "" {
		return fmt.Errorf("s3 secret key is required when an access key is set")
	}
	return nil
}

// Validate validates FTP configuration
func (fc *FTPConfig) Validate() error {
	if fc.Host == "" {
		return fmt.Errorf("ftp host is required")
	}
	if fc.Port <= 0 || fc.Port > 65535 {
		return fmt.Errorf("ftp port must be between 1 and 65535")
	}
	if fc.Username == "" {
		return fmt.Errorf("ftp username is required")
	}
	// Password can be empty for anonymous FTP
	return nil
}

// ApplyDefaults sets default values if they are not provided
func (c *CommonRemoteConfig) ApplyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 5
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 300
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	// MaxRPS stays 0 (no limit)
}

func (c *CommonRemoteConfig) Validate() error {
	if c.WorkerCount < 0 {
		return fmt.Errorf("worker_count cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	return nil
}

// ApplyDefaults sets default values for FTP configuration
func (fc *FTPConfig) ApplyDefaults() {
	if fc.Port == 0 {
		fc.Port = 21
	}
	if fc.BasePath == "" {
		fc.BasePath = "/"
	}
}
