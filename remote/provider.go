package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
)

// Existence is the result of a successful existence query. A query that could
// not complete is reported as an error, never as Absent.
type Existence int

const (
	Absent Existence = iota
	Present
)

func (e Existence) String() string {
	if e == Present {
		return "present"
	}
	return "absent"
}

// Direction identifies which way a transfer was going when it failed.
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// TransferError wraps the failure of one subject's transfer so the caller can
// mark that subject failed without aborting the batch.
type TransferError struct {
	Subject   string
	Direction Direction
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer for subject %s failed: %v", e.Direction, e.Subject, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotFound is returned by Get when the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed is returned by PutConditional when the remote
	// object changed since it was read.
	ErrPreconditionFailed = errors.New("precondition failed: remote object changed")
	// ErrConditionalUnsupported is returned by backends that cannot do
	// conditional writes.
	ErrConditionalUnsupported = errors.New("conditional writes not supported by this backend")
)

// Store is the abstract remote object store: existence checks, recursive
// pull/push with an include filter, and single-object access for the run log.
// Keys are slash-separated paths relative to the store's configured root.
type Store interface {
	// Exists reports whether any object lives at or under key.
	Exists(ctx context.Context, key string) (Existence, error)

	// Pull recursively copies objects under remoteKey into localDir,
	// preserving relative paths. Only keys whose base name contains include
	// are copied (empty include copies everything). In dry-run mode the
	// intended copies are logged and nothing is transferred.
	Pull(ctx context.Context, remoteKey, localDir, include string, dryRun bool) error

	// Push recursively uploads files under localDir to remoteKey. When move
	// is set, each local file is removed after a successful upload.
	Push(ctx context.Context, localDir, remoteKey, include string, move, dryRun bool) error

	// Get fetches a single object and its version tag (empty when the
	// backend has none). Returns ErrNotFound for a missing object.
	Get(ctx context.Context, key string) (data []byte, version string, err error)

	// Put writes a single object.
	Put(ctx context.Context, key string, data []byte, dryRun bool) error

	// PutConditional writes a single object only if its current version still
	// matches the given tag. Returns ErrPreconditionFailed on a lost race and
	// ErrConditionalUnsupported when the backend cannot check.
	PutConditional(ctx context.Context, key string, data []byte, version string) error

	// Delete removes a single object.
	Delete(ctx context.Context, key string) error

	// URI renders a key as a display URI for logs.
	URI(key string) string

	Close() error
}

// CreateStore creates a remote store based on configuration
func CreateStore(cfg *config.RemoteConfig, log logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote configuration: %w", err)
	}

	switch cfg.RemoteType {
	case config.RemoteTypeS3:
		return NewS3Store(cfg.S3, &cfg.Common, log)
	case config.RemoteTypeFTP:
		return NewFTPStore(cfg.FTP, &cfg.Common, log)
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.RemoteType)
	}
}
