// Package caselist builds the ordered subject backlog for a run: it reads the
// line-oriented caselist, applies the 1-based index window, normalizes tokens
// and filters to subjects actually present at the remote root.
package caselist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
)

// ErrRange reports a bad index window. It aborts the run before any I/O.
var ErrRange = errors.New("invalid caselist index range")

type Lister struct {
	store     remote.Store
	log       logger.Logger
	appendage string
	pattern   *regexp.Regexp

	remoteRoot string
	groupName  string
}

func NewLister(store remote.Store, cfg *config.PipelineConfig, log logger.Logger) (*Lister, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	pattern, err := regexp.Compile(cfg.AppendagePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid appendage pattern %q: %w", cfg.AppendagePattern, err)
	}
	return &Lister{
		store:      store,
		log:        log,
		appendage:  cfg.Appendage,
		pattern:    pattern,
		remoteRoot: cfg.RemoteRoot,
		groupName:  cfg.GroupName,
	}, nil
}

// List produces the ordered backlog: window the caselist, normalize each
// token, keep only subjects whose remote root exists. Safe to call repeatedly
// against an unchanged caselist and remote state.
func (l *Lister) List(ctx context.Context, caselistPath string, startIndex, endIndex int) ([]model.Subject, error) {
	tokens, err := l.window(ctx, caselistPath, startIndex, endIndex)
	if err != nil {
		return nil, err
	}

	subjects := make([]model.Subject, 0, len(tokens))
	for _, token := range tokens {
		subject := l.Normalize(token)

		rootKey := path.Join(l.remoteRoot, l.groupName, subject.ID)
		existence, err := l.store.Exists(ctx, rootKey)
		if err != nil {
			// A failed query is not "absent". Dropping the subject here would
			// shrink the backlog without a trace, so the run stops instead.
			return nil, fmt.Errorf("existence check failed for %s: %w", subject.ID, err)
		}
		if existence == remote.Absent {
			l.log.Info("subject %s not found at remote root, skipping", subject.ID)
			continue
		}
		subjects = append(subjects, subject)
	}

	l.log.Info("caselist window resolved to %d subjects (%d tokens)", len(subjects), len(tokens))
	return subjects, nil
}

// window reads the caselist, drops comments and blanks, and slices the
// 1-based inclusive [start, end] window. end = 0 means through the last line.
func (l *Lister) window(ctx context.Context, caselistPath string, startIndex, endIndex int) ([]string, error) {
	if startIndex < 1 {
		return nil, fmt.Errorf("%w: start index %d is below 1", ErrRange, startIndex)
	}
	if endIndex != 0 && startIndex > endIndex {
		return nil, fmt.Errorf("%w: start index %d is after end index %d", ErrRange, startIndex, endIndex)
	}

	content, err := l.readCaselist(ctx, caselistPath)
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read caselist: %w", err)
	}

	end := endIndex
	if end == 0 || end > len(lines) {
		end = len(lines)
	}
	if startIndex > len(lines) {
		return nil, nil
	}
	return lines[startIndex-1 : end], nil
}

// readCaselist loads the caselist from the local path when it exists, else
// fetches it from the remote store.
func (l *Lister) readCaselist(ctx context.Context, caselistPath string) (string, error) {
	if data, err := os.ReadFile(caselistPath); err == nil {
		return string(data), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read caselist %s: %w", caselistPath, err)
	}

	if l.store == nil {
		return "", fmt.Errorf("caselist %s not found locally and no remote store configured", caselistPath)
	}
	data, _, err := l.store.Get(ctx, caselistPath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch caselist %s: %w", caselistPath, err)
	}
	return string(data), nil
}

// Normalize appends the appendage unless the token already carries a
// version-and-modality marker. Idempotent: Normalize(Normalize(x)) ==
// Normalize(x).
func (l *Lister) Normalize(token string) model.Subject {
	id := token
	if !l.pattern.MatchString(token) {
		id = token + l.appendage
	}

	name := id
	if loc := l.pattern.FindStringIndex(id); loc != nil {
		name = id[:loc[0]]
	}

	return model.Subject{Token: token, ID: id, Name: name}
}
