// Package reclaim manages local working storage between batches: relocating
// finished subjects into the processed area, routing non-primary outputs into
// the additional-files side channel, and deleting the batch's working tree
// once outcomes have been logged. Local directories are batch-scoped and
// reused by name, so the next batch must not start before reclaim finishes.
package reclaim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
)

const processedDirName = "processed"

type Reclaimer struct {
	localRoot       string
	groupName       string
	outputDirName   string
	additionalDir   string
	scratchFileName string
	allowedSuffixes []string
	log             logger.Logger
}

func NewReclaimer(cfg *config.PipelineConfig, log logger.Logger) *Reclaimer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Reclaimer{
		localRoot:       cfg.LocalRoot,
		groupName:       cfg.GroupName,
		outputDirName:   cfg.OutputDirName,
		additionalDir:   cfg.AdditionalFilesDir,
		scratchFileName: cfg.ScratchFileName,
		allowedSuffixes: cfg.AllowedSuffixes,
		log:             log,
	}
}

// WorkingDir is where a subject's files live during staging and transform.
func (r *Reclaimer) WorkingDir(subjectID string) string {
	return filepath.Join(r.localRoot, r.groupName, subjectID)
}

// ProcessedDir is where a subject's files live after the transform, awaiting
// upload.
func (r *Reclaimer) ProcessedDir(subjectID string) string {
	return filepath.Join(r.localRoot, processedDirName, r.groupName, subjectID)
}

// MoveToProcessed relocates a subject's whole working subtree into the
// processed area, preserving the subject's relative path.
func (r *Reclaimer) MoveToProcessed(subjectID string) error {
	src := r.WorkingDir(subjectID)
	dst := r.ProcessedDir(subjectID)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create processed area: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to processed area: %w", subjectID, err)
	}
	r.log.Debug("moved %s to %s", src, dst)
	return nil
}

// SortAdditionalFiles walks a processed subject's output directory. The
// transform scratch file is deleted outright; any other file whose name does
// not end in an allowed suffix is relocated into the additional-files side
// channel rather than deleted, so no generated artifact is silently lost.
func (r *Reclaimer) SortAdditionalFiles(subjectID string) error {
	outputDir := filepath.Join(r.ProcessedDir(subjectID), filepath.FromSlash(r.outputDirName))

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			// The transform produced nothing for this subject.
			return nil
		}
		return fmt.Errorf("failed to read output dir %s: %w", outputDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		full := filepath.Join(outputDir, name)

		if name == r.scratchFileName {
			if err := os.Remove(full); err != nil {
				return fmt.Errorf("failed to delete scratch file %s: %w", full, err)
			}
			continue
		}
		if r.isAllowed(name) {
			continue
		}

		if err := os.MkdirAll(r.additionalDir, 0755); err != nil {
			return fmt.Errorf("failed to create additional files dir: %w", err)
		}
		dst := filepath.Join(r.additionalDir, subjectID+"_"+name)
		if err := os.Rename(full, dst); err != nil {
			return fmt.Errorf("failed to relocate %s: %w", full, err)
		}
		r.log.Debug("relocated additional file %s to %s", full, dst)
	}
	return nil
}

func (r *Reclaimer) isAllowed(name string) bool {
	for _, suffix := range r.allowedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// AdditionalDir returns the side-channel directory, or "" when it holds
// nothing to push.
func (r *Reclaimer) AdditionalDir() string {
	entries, err := os.ReadDir(r.additionalDir)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return r.additionalDir
}

// ReclaimBatch deletes the batch's local working and processed trees. This is
// the only place local disk is reclaimed, and it must only run after the
// batch's outcomes have been logged (log before delete, never the reverse).
func (r *Reclaimer) ReclaimBatch() error {
	for _, dir := range []string{
		filepath.Join(r.localRoot, r.groupName),
		filepath.Join(r.localRoot, processedDirName),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to reclaim %s: %w", dir, err)
		}
		r.log.Debug("deleted %s", dir)
	}
	return nil
}
