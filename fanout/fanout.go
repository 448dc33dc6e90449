// Package fanout runs one operation per subject across a bounded worker
// pool. A single worker degenerates to sequential execution, so the caller
// never needs separate sequential and parallel code paths.
package fanout

import (
	"context"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
)

// Result pairs a subject with the captured outcome of its operation. Every
// submitted subject appears exactly once in the result set; order is not
// guaranteed.
type Result struct {
	Subject model.Subject
	Err     error
}

// Op is a per-subject operation. Failures are returned, never panicked; one
// subject's failure does not affect its siblings.
type Op func(ctx context.Context, subject model.Subject) error

// Run executes op for every subject using at most workerLimit workers,
// bounded further by the number of subjects. It returns only after every
// subject has reported. When the context is cancelled, remaining subjects
// report the context error instead of running.
func Run(ctx context.Context, subjects []model.Subject, workerLimit int, op Op) []Result {
	if len(subjects) == 0 {
		return nil
	}

	workers := workerLimit
	if workers > len(subjects) {
		workers = len(subjects)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan model.Subject, len(subjects))
	results := make(chan Result, len(subjects))

	for w := 0; w < workers; w++ {
		go func() {
			for subject := range jobs {
				select {
				case <-ctx.Done():
					results <- Result{Subject: subject, Err: ctx.Err()}
				default:
					results <- Result{Subject: subject, Err: op(ctx, subject)}
				}
			}
		}()
	}

	for _, s := range subjects {
		jobs <- s
	}
	close(jobs)

	out := make([]Result, 0, len(subjects))
	for range subjects {
		out = append(out, <-results)
	}
	return out
}
