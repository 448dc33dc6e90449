package journal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
)

type BboltJournal struct {
	db     *bbolt.DB
	bucket string
}

// NewBboltJournal creates a new BboltJournal based on configuration
func NewBboltJournal(cfg *config.BboltConfig) (*BboltJournal, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbolt config: %w", err)
	}

	db, err := bbolt.Open(cfg.Path, cfg.Mode, nil)
	if err != nil {
		return nil, err
	}
	if cfg.NoSync {
		db.NoSync = true
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cfg.Bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BboltJournal{
		db:     db,
		bucket: cfg.Bucket,
	}, nil
}

func (j *BboltJournal) Close() error {
	return j.db.Close()
}

// key layout: <runID>/<subject>
func journalKey(runID, subject string) []byte {
	return []byte(runID + "/" + subject)
}

func (j *BboltJournal) Record(runID string, outcome model.Outcome) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(j.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		val, err := json.Marshal(outcome)
		if err != nil {
			return err
		}
		return b.Put(journalKey(runID, outcome.Subject), val)
	})
}

func (j *BboltJournal) Get(runID, subject string) (*model.Outcome, error) {
	var outcome model.Outcome
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(j.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		val := b.Get(journalKey(runID, subject))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &outcome)
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ListRun returns all outcomes recorded for a run, ordered by subject.
func (j *BboltJournal) ListRun(runID string) ([]model.Outcome, error) {
	var outcomes []model.Outcome
	prefix := runID + "/"

	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(j.bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var outcome model.Outcome
			if err := json.Unmarshal(v, &outcome); err != nil {
				return fmt.Errorf("unmarshal error for key %s: %w", k, err)
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].Subject < outcomes[b].Subject })
	return outcomes, nil
}

func (j *BboltJournal) Count() (int64, error) {
	var count int64
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(j.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	return count, err
}
