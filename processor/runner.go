// Package processor drives the batch lifecycle: stage subjects from the
// remote store, run the external transform over the batch, distribute the
// products back, verify them remotely and reconcile the run log before local
// storage is reclaimed. Batches share local working directories, so they are
// strictly sequential; only per-subject transfers inside a stage fan out.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/caselist"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/fanout"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/journal"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/manifest"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/reclaim"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/runlog"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/transform"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/verify"
)

// TransformRunner executes the external transform against a manifest.
// *transform.Invoker is the production implementation.
type TransformRunner interface {
	Run(ctx context.Context, manifestPath string) error
}

type Runner struct {
	store     remote.Store
	journal   journal.Provider
	transform TransformRunner

	lister    *caselist.Lister
	manifest  *manifest.Builder
	verifier  *verify.Verifier
	reclaimer *reclaim.Reclaimer
	runLog    *runlog.RunLog

	cfg         *config.PipelineConfig
	workerCount int
	logger      logger.Logger
	dryRun      bool
}

// NewRunner wires the batch lifecycle around the provided store, journal and
// transform. workerCount bounds the per-subject transfer fan-out during
// distribution.
func NewRunner(store remote.Store, jrnl journal.Provider, tr TransformRunner, cfg *config.PipelineConfig, workerCount int, log logger.Logger, dryRun bool) (*Runner, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	lister, err := caselist.NewLister(store, cfg, log)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		tr = transform.NewInvoker(cfg.TransformCommand, cfg.ModelDir, log, dryRun)
	}
	if workerCount <= 0 {
		workerCount = 5
	}

	runLogKey := path.Join(cfg.RemoteRoot, cfg.GroupName, cfg.RunLogName)
	return &Runner{
		store:       store,
		journal:     jrnl,
		transform:   tr,
		lister:      lister,
		manifest:    manifest.NewBuilder(log),
		verifier:    verify.NewVerifier(store, log),
		reclaimer:   reclaim.NewReclaimer(cfg, log),
		runLog:      runlog.New(store, cfg.LocalLogPath, runLogKey, log, dryRun),
		cfg:         cfg,
		workerCount: workerCount,
		logger:      log,
		dryRun:      dryRun,
	}, nil
}

// StageStats contains statistics from the staging operation
type StageStats struct {
	Requested int64 // Subjects in the batch
	Staged    int64 // Subjects whose inputs arrived locally
	Failed    int64 // Subjects that could not be staged
}

func (s *StageStats) String() string {
	return fmt.Sprintf("Stage: requested=%d, staged=%d, failed=%d", s.Requested, s.Staged, s.Failed)
}

// TransformStats contains statistics from the transform operation
type TransformStats struct {
	ManifestEntries int  // Input files listed in the manifest
	Invoked         bool // Whether the external transform was executed
	BatchFailed     bool // Whether the transform reported failure
}

func (s *TransformStats) String() string {
	if !s.Invoked {
		return fmt.Sprintf("Transform (dry-run): manifest_entries=%d", s.ManifestEntries)
	}
	if s.BatchFailed {
		return fmt.Sprintf("Transform: manifest_entries=%d, result=failed", s.ManifestEntries)
	}
	return fmt.Sprintf("Transform: manifest_entries=%d, result=ok", s.ManifestEntries)
}

// DistributeStats contains statistics from the distribution operation
type DistributeStats struct {
	Uploaded int64 // Subjects whose products were pushed back
	Failed   int64 // Subjects whose relocation or upload failed
}

func (s *DistributeStats) String() string {
	return fmt.Sprintf("Distribute: uploaded=%d, failed=%d", s.Uploaded, s.Failed)
}

// VerifyStats contains statistics from the verification operation
type VerifyStats struct {
	Completed int64 // Subjects with every expected product present remotely
	Failed    int64 // Subjects recorded as failed, any cause
}

func (s *VerifyStats) String() string {
	return fmt.Sprintf("Verify: completed=%d, failed=%d", s.Completed, s.Failed)
}

// Run executes the whole backlog batch by batch. Per-subject failures are
// recorded and the run continues; only a bad caselist window, a manifest that
// does not round-trip or a reconcile failure abort the run.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	runID := start.UTC().Format("20060102T150405Z")
	r.logger.Info("Starting run %s", runID)

	subjects, err := r.lister.List(ctx, r.cfg.CaselistPath, r.cfg.StartIndex, r.cfg.EndIndex)
	if err != nil {
		r.logger.Error("Failed to resolve caselist window: %v", err)
		return err
	}
	if len(subjects) == 0 {
		r.logger.Info("No subjects to process")
		return nil
	}

	batches := makeBatches(subjects, r.cfg.BatchSize)
	r.logger.Info("Backlog: %d subjects in %d batches of up to %d", len(subjects), len(batches), r.cfg.BatchSize)

	var completed, failed int64
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Info("Batch %d/%d: %v", batch.Index+1, len(batches), batch.IDs())
		outcomes, err := r.runBatch(ctx, runID, batch)
		if err != nil {
			r.logger.Error("Batch %d aborted the run: %v", batch.Index+1, err)
			return err
		}
		for _, o := range outcomes {
			if o.Status == model.StatusCompleted {
				completed++
			} else {
				failed++
			}
		}
	}

	r.logger.Info("Run %s finished: %d completed, %d failed, elapsed %s",
		runID, completed, failed, time.Since(start).Round(time.Second))
	return nil
}

func (r *Runner) runBatch(ctx context.Context, runID string, batch model.Batch) ([]model.Outcome, error) {
	// 1. Stage inputs from the remote store
	r.logger.Debug("Step 1: Staging batch %d", batch.Index+1)
	staged, causes, stageStats := r.stageBatch(ctx, batch)
	r.logger.Info(stageStats.String())

	// 2. Build the manifest and run the transform
	r.logger.Debug("Step 2: Transforming batch %d", batch.Index+1)
	transformStats, batchFailed, err := r.transformBatch(ctx, staged)
	if err != nil {
		return nil, err
	}
	r.logger.Info(transformStats.String())

	if r.dryRun {
		r.logger.Info("Dry-run mode: batch %d stops after the transform step, no outcomes recorded", batch.Index+1)
		return nil, nil
	}

	if batchFailed {
		// Nothing from this batch can be trusted; every staged subject fails
		// with the batch cause, staging failures keep their own.
		for _, s := range staged {
			causes[s.ID] = model.CauseTransformBatchFailure
		}
		staged = nil
	}

	// 3. Distribute products back to the remote store
	if len(staged) > 0 {
		r.logger.Debug("Step 3: Distributing batch %d", batch.Index+1)
		distributed, distStats := r.distributeBatch(ctx, staged, causes)
		r.logger.Info(distStats.String())
		staged = distributed
	}

	// 4. Verify remote products and settle per-subject outcomes
	r.logger.Debug("Step 4: Verifying batch %d", batch.Index+1)
	outcomes, verifyStats := r.verifyBatch(ctx, batch, causes)
	r.logger.Info(verifyStats.String())

	// 5. Reconcile the run log, then reclaim local storage. Outcomes must be
	// durable before anything local is deleted.
	r.logger.Debug("Step 5: Reconciling batch %d", batch.Index+1)
	if err := r.reconcileBatch(ctx, runID, outcomes); err != nil {
		return nil, err
	}
	if err := r.reclaimer.ReclaimBatch(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// stageBatch pulls every subject's transform inputs into local working
// storage. Returns the successfully staged subjects and a cause per failed
// subject ID.
func (r *Runner) stageBatch(ctx context.Context, batch model.Batch) ([]model.Subject, map[string]string, *StageStats) {
	stats := &StageStats{Requested: int64(batch.Size())}
	causes := make(map[string]string)

	workers := 1
	if r.cfg.Parallel {
		workers = runtime.NumCPU()
	}

	results := fanout.Run(ctx, batch.Subjects, workers, func(ctx context.Context, s model.Subject) error {
		return r.stageSubject(ctx, s)
	})

	var staged []model.Subject
	for _, res := range results {
		if res.Err != nil {
			r.logger.Error("Failed to stage %s: %v", res.Subject.ID, res.Err)
			causes[res.Subject.ID] = model.CauseTransferError
			stats.Failed++
			continue
		}
		staged = append(staged, res.Subject)
		stats.Staged++
	}
	return staged, causes, stats
}

func (r *Runner) stageSubject(ctx context.Context, s model.Subject) error {
	srcKey := path.Join(r.cfg.RemoteRoot, r.cfg.GroupName, s.ID, r.cfg.SourceSubpath)

	existence, err := r.store.Exists(ctx, srcKey)
	if err != nil {
		return &remote.TransferError{Subject: s.ID, Direction: remote.DirectionPull, Err: err}
	}
	if existence == remote.Absent {
		return &remote.TransferError{
			Subject:   s.ID,
			Direction: remote.DirectionPull,
			Err:       fmt.Errorf("%w: %s", remote.ErrNotFound, r.store.URI(srcKey)),
		}
	}

	localDir := filepath.Join(r.reclaimer.WorkingDir(s.ID), filepath.FromSlash(r.cfg.OutputDirName))
	if err := r.store.Pull(ctx, srcKey+"/", localDir, r.cfg.FileSubstring, r.dryRun); err != nil {
		return &remote.TransferError{Subject: s.ID, Direction: remote.DirectionPull, Err: err}
	}
	return nil
}

// transformBatch writes the batch manifest and invokes the transform over it.
// A manifest that fails its round-trip check aborts the run; a transform
// failure only fails the batch.
func (r *Runner) transformBatch(ctx context.Context, staged []model.Subject) (*TransformStats, bool, error) {
	stats := &TransformStats{}
	if len(staged) == 0 && !r.dryRun {
		r.logger.Info("No staged subjects, skipping transform")
		return stats, false, nil
	}

	batchRoot := filepath.Join(r.cfg.LocalRoot, r.cfg.GroupName)
	entries, err := r.manifest.Build(batchRoot, r.cfg.FileSubstring+".nii.gz", r.cfg.ManifestPath)
	if err != nil {
		if errors.Is(err, manifest.ErrIntegrity) {
			return stats, false, fmt.Errorf("refusing to run transform: %w", err)
		}
		return stats, false, err
	}
	stats.ManifestEntries = entries

	// An empty manifest is normal in dry-run (nothing was staged); the invoker
	// still gets called so the rehearsal logs the exact command line.
	if entries == 0 && !r.dryRun {
		r.logger.Warn("Manifest is empty, skipping transform")
		return stats, false, nil
	}

	if err := r.transform.Run(ctx, r.cfg.ManifestPath); err != nil {
		if errors.Is(err, transform.ErrBatchFailure) {
			stats.Invoked = true
			stats.BatchFailed = true
			r.logger.Error("Transform failed for this batch: %v", err)
			return stats, true, nil
		}
		return stats, false, err
	}
	stats.Invoked = !r.dryRun
	return stats, false, nil
}

// distributeBatch relocates each staged subject into the processed area,
// routes non-primary outputs aside, then pushes products and the
// additional-files side channel back to the remote store.
func (r *Runner) distributeBatch(ctx context.Context, staged []model.Subject, causes map[string]string) ([]model.Subject, *DistributeStats) {
	stats := &DistributeStats{}

	// Local relocation is cheap and sequential; failures keep the subject out
	// of the upload set.
	var relocated []model.Subject
	for _, s := range staged {
		if err := r.reclaimer.MoveToProcessed(s.ID); err != nil {
			r.logger.Error("Failed to relocate %s: %v", s.ID, err)
			causes[s.ID] = model.CauseTransferError
			stats.Failed++
			continue
		}
		if err := r.reclaimer.SortAdditionalFiles(s.ID); err != nil {
			r.logger.Error("Failed to sort outputs for %s: %v", s.ID, err)
			causes[s.ID] = model.CauseTransferError
			stats.Failed++
			continue
		}
		relocated = append(relocated, s)
	}

	results := fanout.Run(ctx, relocated, r.workerCount, func(ctx context.Context, s model.Subject) error {
		remoteKey := path.Join(r.cfg.RemoteRoot, r.cfg.GroupName, s.ID)
		return r.store.Push(ctx, r.reclaimer.ProcessedDir(s.ID), remoteKey, r.cfg.FileSubstring, true, r.dryRun)
	})

	var distributed []model.Subject
	for _, res := range results {
		if res.Err != nil {
			r.logger.Error("Failed to push products for %s: %v", res.Subject.ID, res.Err)
			causes[res.Subject.ID] = model.CauseTransferError
			stats.Failed++
			continue
		}
		distributed = append(distributed, res.Subject)
		stats.Uploaded++
	}

	if dir := r.reclaimer.AdditionalDir(); dir != "" {
		key := path.Join(r.cfg.RemoteRoot, r.cfg.GroupName, "AdditionalFiles")
		if err := r.store.Push(ctx, dir, key, "", true, r.dryRun); err != nil {
			// The side channel is shared and attributable to no single
			// subject; the files stay local for the next attempt.
			r.logger.Error("Failed to push additional files: %v", err)
		}
	}

	return distributed, stats
}

// verifyBatch settles one outcome per subject in batch order. Subjects with a
// recorded cause fail with it; the rest are checked against the remote store.
func (r *Runner) verifyBatch(ctx context.Context, batch model.Batch, causes map[string]string) ([]model.Outcome, *VerifyStats) {
	stats := &VerifyStats{}
	outcomes := make([]model.Outcome, 0, batch.Size())

	for _, s := range batch.Subjects {
		outcome := model.Outcome{Subject: s.ID, Time: time.Now()}

		if cause, ok := causes[s.ID]; ok {
			outcome.Status = model.StatusFailed
			outcome.Cause = cause
		} else {
			remoteOutputDir := path.Join(r.cfg.RemoteRoot, r.cfg.GroupName, s.ID, r.cfg.OutputDirName)
			verified, err := r.verifier.Verify(ctx, s, r.cfg.AllowedSuffixes, remoteOutputDir)
			switch {
			case err != nil:
				r.logger.Error("Verification query failed for %s: %v", s.ID, err)
				outcome.Status = model.StatusFailed
				outcome.Cause = model.CauseRemoteQueryFailure
			case !verified:
				outcome.Status = model.StatusFailed
				outcome.Cause = model.CauseVerificationFailure
			default:
				outcome.Status = model.StatusCompleted
			}
		}

		if outcome.Status == model.StatusCompleted {
			stats.Completed++
		} else {
			stats.Failed++
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, stats
}

// reconcileBatch makes the batch's outcomes durable: journal, local run log,
// then the merged remote run log.
func (r *Runner) reconcileBatch(ctx context.Context, runID string, outcomes []model.Outcome) error {
	for _, o := range outcomes {
		if err := r.journal.Record(runID, o); err != nil {
			return fmt.Errorf("failed to journal outcome for %s: %w", o.Subject, err)
		}
	}
	if err := r.runLog.Record(outcomes); err != nil {
		return err
	}
	return r.runLog.Reconcile(ctx)
}

// makeBatches splits the backlog into contiguous batches; only the last batch
// may be short.
func makeBatches(subjects []model.Subject, batchSize int) []model.Batch {
	var batches []model.Batch
	for i := 0; i < len(subjects); i += batchSize {
		end := i + batchSize
		if end > len(subjects) {
			end = len(subjects)
		}
		batches = append(batches, model.Batch{Index: len(batches), Subjects: subjects[i:end]})
	}
	return batches
}
