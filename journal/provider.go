package journal

import (
	"errors"
	"fmt"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
)

// Provider is the local outcome journal: a durable per-subject record written
// during verification, before the run log is reconciled with the remote copy.
// It survives a crash mid-batch where the in-memory outcome slice would not.
type Provider interface {
	Record(runID string, outcome model.Outcome) error
	Get(runID, subject string) (*model.Outcome, error)
	ListRun(runID string) ([]model.Outcome, error)
	Count() (int64, error)
	Close() error
}

var (
	ErrNotFound       error = errors.New("outcome not found")
	ErrBucketNotFound error = errors.New("bucket not found")
)

func Create(cfg *config.JournalConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal configuration: %w", err)
	}

	switch cfg.JournalType {
	case config.JournalTypeBbolt:
		return NewBboltJournal(cfg.Bbolt)
	default:
		return nil, fmt.Errorf("unsupported journal type: %s", cfg.JournalType)
	}
}
