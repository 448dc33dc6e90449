package config

import (
	"fmt"
	"os"
)

// JournalType represents the type of outcome-journal backend
type JournalType string

const (
	JournalTypeBbolt JournalType = "bbolt"
)

// JournalConfig holds the configuration for the local outcome journal
type JournalConfig struct {
	JournalType JournalType `json:"type" yaml:"type" toml:"type"`

	// Type-specific configs
	Bbolt *BboltConfig `json:"bbolt,omitempty" yaml:"bbolt,omitempty" toml:"bbolt,omitempty"`
}

// BboltConfig holds bbolt-specific configuration
type BboltConfig struct {
	Path   string      `json:"path" yaml:"path" toml:"path"`                                        // Path to bbolt DB file
	Bucket string      `json:"bucket" yaml:"bucket" toml:"bucket"`                                  // Name of the bucket
	Mode   os.FileMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`          // File open mode: "0600", "0644"
	NoSync bool        `json:"no_sync,omitempty" yaml:"no_sync,omitempty" toml:"no_sync,omitempty"` // Disable fsync for better performance
}

// Validate validates the journal configuration
func (jc *JournalConfig) Validate() error {
	switch jc.JournalType {
	case JournalTypeBbolt:
		if jc.Bbolt == nil {
			return fmt.Errorf("bbolt configuration is required when type is 'bbolt'")
		}
		return jc.Bbolt.Validate()
	default:
		return fmt.Errorf("unsupported journal type: %s", jc.JournalType)
	}
}

func (bc *BboltConfig) Validate() error {
	if bc.Path == "" {
		return fmt.Errorf("bbolt path is required")
	}
	if bc.Bucket == "" {
		return fmt.Errorf("bbolt bucket is required")
	}
	return nil
}

// ApplyDefaults sets default values if not provided for bbolt
func (bc *BboltConfig) ApplyDefaults() {
	if bc.Path == "" {
		bc.Path = "./journal.db"
	}
	if bc.Bucket == "" {
		bc.Bucket = "outcomes"
	}
	if bc.Mode == 0 {
		bc.Mode = 0600
	}
	// NoSync remains false by default for data safety
}
