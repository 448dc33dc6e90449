package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
)

func makeSubjects(n int) []model.Subject {
	subjects := make([]model.Subject, n)
	for i := range subjects {
		id := fmt.Sprintf("%d_V1_MR", 100+i)
		subjects[i] = model.Subject{Token: fmt.Sprintf("%d", 100+i), ID: id, Name: fmt.Sprintf("%d", 100+i)}
	}
	return subjects
}

func TestRunEverySubjectExactlyOnce(t *testing.T) {
	subjects := makeSubjects(10)

	var mu sync.Mutex
	seen := make(map[string]int)

	results := Run(context.Background(), subjects, 3, func(ctx context.Context, s model.Subject) error {
		mu.Lock()
		seen[s.ID]++
		mu.Unlock()
		return nil
	})

	require.Len(t, results, len(subjects))
	require.Len(t, seen, len(subjects))
	for id, count := range seen {
		require.Equal(t, 1, count, "subject %s ran %d times", id, count)
	}
	for _, res := range results {
		require.NoError(t, res.Err)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	subjects := makeSubjects(5)
	boom := errors.New("boom")

	results := Run(context.Background(), subjects, 2, func(ctx context.Context, s model.Subject) error {
		if s.ID == subjects[2].ID {
			return boom
		}
		return nil
	})

	require.Len(t, results, len(subjects))
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			require.Equal(t, subjects[2].ID, res.Subject.ID)
			require.ErrorIs(t, res.Err, boom)
		}
	}
	require.Equal(t, 1, failed)
}

func TestRunCancelledContext(t *testing.T) {
	subjects := makeSubjects(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	results := Run(ctx, subjects, 2, func(ctx context.Context, s model.Subject) error {
		ran++
		return nil
	})

	require.Len(t, results, len(subjects))
	for _, res := range results {
		require.ErrorIs(t, res.Err, context.Canceled)
	}
	require.Zero(t, ran)
}

func TestRunSingleWorkerIsSequential(t *testing.T) {
	subjects := makeSubjects(6)

	var active, maxActive int
	var mu sync.Mutex

	results := Run(context.Background(), subjects, 1, func(ctx context.Context, s model.Subject) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	require.Len(t, results, len(subjects))
	require.Equal(t, 1, maxActive)
}

func TestRunClampsWorkerLimit(t *testing.T) {
	subjects := makeSubjects(3)

	// Zero and oversized limits both work.
	for _, limit := range []int{0, 100} {
		results := Run(context.Background(), subjects, limit, func(ctx context.Context, s model.Subject) error {
			return nil
		})
		require.Len(t, results, len(subjects))
	}
}

func TestRunEmptyInput(t *testing.T) {
	require.Nil(t, Run(context.Background(), nil, 4, func(ctx context.Context, s model.Subject) error {
		return nil
	}))
}
