// Package runlog maintains the append-only per-subject outcome history for a
// group, mirrored between local disk and the remote store. Lines are opaque
// strings; the merge is an exact-string set union, so it is idempotent and
// commutative.
package runlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
)

// maxPushAttempts bounds re-merge retries when the remote log changes under a
// conditional push.
const maxPushAttempts = 3

type RunLog struct {
	store     remote.Store
	localPath string
	remoteKey string
	log       logger.Logger
	dryRun    bool
}

func New(store remote.Store, localPath, remoteKey string, log logger.Logger, dryRun bool) *RunLog {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &RunLog{
		store:     store,
		localPath: localPath,
		remoteKey: remoteKey,
		log:       log,
		dryRun:    dryRun,
	}
}

// Record appends one line per outcome to the local log. Lines are never
// mutated afterwards, only merged with remote history during Reconcile.
func (r *RunLog) Record(outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.localPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(r.localPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log %s: %w", r.localPath, err)
	}
	w := bufio.NewWriter(f)
	for _, o := range outcomes {
		fmt.Fprintln(w, o.Line())
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to run log: %w", err)
	}
	return f.Close()
}

// Merge unions two newline-delimited logs, deduplicating by exact string
// equality and dropping blank lines. The result is sorted so merges are
// stable: merge(a, merge(a, b)) == merge(a, b) and merge(a, b) == merge(b, a).
func Merge(a, b string) string {
	set := make(map[string]struct{})
	for _, text := range []string{a, b} {
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				set[line] = struct{}{}
			}
		}
	}
	lines := make([]string, 0, len(set))
	for line := range set {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Reconcile pulls the remote log, merges it with the local one, rewrites the
// local copy and pushes the merged log back. The push is conditional on the
// version seen at pull time; a lost race re-pulls and re-merges. Backends
// without conditional writes get a plain push, which matches the source
// system's single-writer assumption.
func (r *RunLog) Reconcile(ctx context.Context) error {
	for attempt := 1; attempt <= maxPushAttempts; attempt++ {
		remoteText, version, err := r.pullRemote(ctx)
		if err != nil {
			return err
		}

		localText, err := r.readLocal()
		if err != nil {
			return err
		}

		merged := Merge(remoteText, localText)

		if err := os.MkdirAll(filepath.Dir(r.localPath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := os.WriteFile(r.localPath, []byte(merged), 0644); err != nil {
			return fmt.Errorf("failed to rewrite local run log: %w", err)
		}

		if r.dryRun {
			return r.store.Put(ctx, r.remoteKey, []byte(merged), true)
		}

		err = r.store.PutConditional(ctx, r.remoteKey, []byte(merged), version)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, remote.ErrConditionalUnsupported):
			return r.store.Put(ctx, r.remoteKey, []byte(merged), false)
		case errors.Is(err, remote.ErrPreconditionFailed):
			r.log.Warn("remote run log changed during reconcile, re-merging (attempt %d/%d)", attempt, maxPushAttempts)
			continue
		default:
			return fmt.Errorf("failed to push run log: %w", err)
		}
	}
	return fmt.Errorf("failed to push run log after %d attempts: concurrent writers", maxPushAttempts)
}

func (r *RunLog) pullRemote(ctx context.Context) (string, string, error) {
	data, version, err := r.store.Get(ctx, r.remoteKey)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// First run for this group: no remote history yet.
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to pull remote run log: %w", err)
	}
	return string(data), version, nil
}

func (r *RunLog) readLocal() (string, error) {
	data, err := os.ReadFile(r.localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read local run log: %w", err)
	}
	return string(data), nil
}
