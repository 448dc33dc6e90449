// Package verify confirms per-subject completion: every primary product of
// the transform must exist at the subject's remote output location.
package verify

import (
	"context"
	"path"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
)

type Verifier struct {
	store remote.Store
	log   logger.Logger
}

func NewVerifier(store remote.Store, log logger.Logger) *Verifier {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Verifier{store: store, log: log}
}

// Verify checks that every allowed suffix exists under remoteOutputDir for
// the subject. It short-circuits on the first missing file, logging which one
// was missing. A failed existence query is returned as an error, distinct
// from "missing".
func (v *Verifier) Verify(ctx context.Context, subject model.Subject, allowedSuffixes []string, remoteOutputDir string) (bool, error) {
	for _, suffix := range allowedSuffixes {
		key := path.Join(remoteOutputDir, subject.Name+suffix)
		existence, err := v.store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if existence == remote.Absent {
			v.log.Info("subject %s: expected file %s does not exist", subject.ID, v.store.URI(key))
			return false, nil
		}
	}
	return true, nil
}
