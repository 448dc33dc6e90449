// Package transform invokes the external batch transform: one blocking call
// per batch, exit status as the only signal. The transform learns the batch
// membership solely from the manifest file.
package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
)

// ErrBatchFailure marks an abnormal transform exit. The failure cannot be
// attributed to individual subjects, so the caller fails the whole batch.
var ErrBatchFailure = errors.New("transform batch failure")

type Invoker struct {
	command  string
	modelDir string
	log      logger.Logger
	dryRun   bool

	// nproc overrides the core count passed to the transform; 0 uses all
	// cores. The transform parallelizes internally, this system does not
	// control it.
	nproc int
}

func NewInvoker(command, modelDir string, log logger.Logger, dryRun bool) *Invoker {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Invoker{
		command:  command,
		modelDir: modelDir,
		log:      log,
		dryRun:   dryRun,
	}
}

// Run executes the transform against the manifest and blocks until it exits.
// In dry-run mode the command line is logged and nothing is executed.
func (i *Invoker) Run(ctx context.Context, manifestPath string) error {
	nproc := i.nproc
	if nproc <= 0 {
		nproc = runtime.NumCPU()
	}

	args := []string{"-i", manifestPath, "-f", i.modelDir, "-nproc", strconv.Itoa(nproc)}

	if i.dryRun {
		i.log.Info("(dryrun) would run transform: %s %v", i.command, args)
		return nil
	}

	i.log.Info("running transform: %s %v", i.command, args)

	cmd := exec.CommandContext(ctx, i.command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrBatchFailure, err)
	}
	return nil
}
