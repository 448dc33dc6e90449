// Package manifest writes the per-batch input list consumed by the external
// transform. The manifest is the transform's only view of the batch, so its
// content is verified by reading it back and comparing against the scan.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
)

// ErrIntegrity reports that the written manifest did not round-trip. This is
// fatal for the run: invoking the transform against a wrong or partial
// manifest would silently process the wrong subject set.
var ErrIntegrity = errors.New("manifest content does not match discovered file set")

type Builder struct {
	log logger.Logger
}

func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Builder{log: log}
}

// Build scans batchRoot recursively for files whose name ends in
// patternSuffix, writes their absolute paths to outputPath one per line in
// discovery order, then re-reads the file and compares the two sets.
func (b *Builder) Build(batchRoot, patternSuffix, outputPath string) (int, error) {
	discovered, err := b.scan(batchRoot, patternSuffix)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create manifest %s: %w", outputPath, err)
	}
	w := bufio.NewWriter(f)
	for _, p := range discovered {
		fmt.Fprintln(w, p)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := b.verify(outputPath, discovered); err != nil {
		return 0, err
	}

	b.log.Debug("manifest %s written with %d entries", outputPath, len(discovered))
	return len(discovered), nil
}

func (b *Builder) scan(batchRoot, patternSuffix string) ([]string, error) {
	if _, err := os.Stat(batchRoot); os.IsNotExist(err) {
		// Nothing was staged (dry-run); the manifest is legitimately empty.
		return nil, nil
	}
	var discovered []string
	err := filepath.Walk(batchRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), patternSuffix) {
			return nil
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		discovered = append(discovered, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", batchRoot, err)
	}
	return discovered, nil
}

// verify re-reads the manifest and compares its lines as a set against the
// discovered paths.
func (b *Builder) verify(outputPath string, discovered []string) error {
	f, err := os.Open(outputPath)
	if err != nil {
		return fmt.Errorf("failed to reopen manifest %s: %w", outputPath, err)
	}
	defer f.Close()

	written := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n"); line != "" {
			written[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read back manifest: %w", err)
	}

	if len(written) != len(discovered) {
		return fmt.Errorf("%w: %d lines written, %d files discovered", ErrIntegrity, len(written), len(discovered))
	}
	for _, p := range discovered {
		if _, ok := written[p]; !ok {
			return fmt.Errorf("%w: %s missing from manifest", ErrIntegrity, p)
		}
	}
	return nil
}
