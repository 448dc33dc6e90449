package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
)

var _ Store = (*FTPStore)(nil)

// FTPStore implements Store for FTP servers. Used for dataset mirrors that
// live on plain FTP rather than an S3-compatible endpoint. FTP has no object
// versions, so the run log falls back to unconditional pushes here.
type FTPStore struct {
	config     *config.FTPConfig
	common     *config.CommonRemoteConfig
	connPool   chan *ftp.ServerConn
	log        logger.Logger
	dialConfig *ftp.DialOption
}

// NewFTPStore creates a new FTP-backed store
func NewFTPStore(cfg *config.FTPConfig, common *config.CommonRemoteConfig, log logger.Logger) (*FTPStore, error) {
	cfg.ApplyDefaults()
	common.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp config: %w", err)
	}
	if err := common.Validate(); err != nil {
		return nil, fmt.Errorf("invalid common config: %w", err)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	connPool := make(chan *ftp.ServerConn, common.WorkerCount)

	var dialConfig *ftp.DialOption
	if cfg.UseTLS {
		opt := ftp.DialWithExplicitTLS(&tls.Config{
			InsecureSkipVerify: false,
		})
		dialConfig = &opt
	}

	store := &FTPStore{
		config:     cfg,
		common:     common,
		connPool:   connPool,
		log:        log,
		dialConfig: dialConfig,
	}

	// Pre-populate the pool with one connection to verify connectivity
	conn, err := store.createConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}
	select {
	case connPool <- conn:
	default:
		conn.Quit()
	}

	return store, nil
}

func (f *FTPStore) createConnection() (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)

	var conn *ftp.ServerConn
	var err error

	if f.dialConfig != nil {
		conn, err = ftp.Dial(addr, *f.dialConfig, ftp.DialWithTimeout(time.Duration(f.common.TimeoutSeconds)*time.Second))
	} else {
		conn, err = ftp.Dial(addr, ftp.DialWithTimeout(time.Duration(f.common.TimeoutSeconds)*time.Second))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if err := conn.Login(f.config.Username, f.config.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return conn, nil
}

func (f *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-f.connPool:
		if err := conn.NoOp(); err != nil {
			conn.Quit()
			return f.createConnection()
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.createConnection()
	}
}

func (f *FTPStore) returnConnection(conn *ftp.ServerConn) {
	if conn == nil {
		return
	}
	select {
	case f.connPool <- conn:
	default:
		conn.Quit()
	}
}

func (f *FTPStore) Close() error {
	for {
		select {
		case conn := <-f.connPool:
			conn.Quit()
		default:
			return nil
		}
	}
}

func (f *FTPStore) URI(key string) string {
	return fmt.Sprintf("ftp://%s%s", f.config.Host, f.fullPath(key))
}

func (f *FTPStore) fullPath(key string) string {
	return path.Join(f.config.BasePath, strings.TrimPrefix(key, "/"))
}

// withRetry runs op over a pooled connection with backoff between attempts.
func (f *FTPStore) withRetry(ctx context.Context, op func(conn *ftp.ServerConn) error) error {
	var lastErr error
	for attempt := 0; attempt < f.common.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		conn, err := f.getConnection(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		err = op(conn)
		f.returnConnection(conn)
		if err == nil {
			return nil
		}
		lastErr = err

		// A definitive "no such file" reply will not improve with retries.
		if isFTPNotFound(err) {
			return lastErr
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", f.common.MaxRetries, lastErr)
}

func isFTPNotFound(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code == ftp.StatusFileUnavailable
	}
	return false
}

// Exists lists the path; a 550 reply means Absent, anything else failing is a
// query error.
func (f *FTPStore) Exists(ctx context.Context, key string) (Existence, error) {
	var found bool
	err := f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		entries, err := conn.List(f.fullPath(key))
		if err != nil {
			return err
		}
		found = len(entries) > 0
		return nil
	})
	if err != nil {
		if isFTPNotFound(err) {
			return Absent, nil
		}
		return Absent, fmt.Errorf("existence check for %s failed: %w", f.URI(key), err)
	}
	if found {
		return Present, nil
	}
	return Absent, nil
}

func (f *FTPStore) Pull(ctx context.Context, remoteKey, localDir, include string, dryRun bool) error {
	root := f.fullPath(remoteKey)

	// Collect matching files first so the walker's connection is free for the
	// retrievals afterwards.
	var files []string
	err := f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		files = files[:0]
		w := conn.Walk(root)
		for w.Next() {
			if w.Stat().Type != ftp.EntryTypeFile {
				continue
			}
			if includeMatch(w.Path(), include) {
				files = append(files, w.Path())
			}
		}
		return w.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", f.URI(remoteKey), err)
	}

	for _, remotePath := range files {
		rel := strings.TrimPrefix(strings.TrimPrefix(remotePath, root), "/")
		local := filepath.Join(localDir, filepath.FromSlash(rel))

		if dryRun {
			f.log.Info("(dryrun) copy: ftp://%s%s to %s", f.config.Host, remotePath, local)
			continue
		}

		err := f.withRetry(ctx, func(conn *ftp.ServerConn) error {
			resp, err := conn.Retr(remotePath)
			if err != nil {
				return err
			}
			defer resp.Close()

			if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
				return err
			}
			out, err := os.Create(local)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, resp); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		})
		if err != nil {
			return fmt.Errorf("failed to pull %s: %w", remotePath, err)
		}
		f.log.Debug("copy: ftp://%s%s to %s", f.config.Host, remotePath, local)
	}
	return nil
}

func (f *FTPStore) Push(ctx context.Context, localDir, remoteKey, include string, move, dryRun bool) error {
	var files []string
	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if includeMatch(p, include) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", localDir, err)
	}

	for _, local := range files {
		rel, err := filepath.Rel(localDir, local)
		if err != nil {
			return err
		}
		remotePath := path.Join(f.fullPath(remoteKey), filepath.ToSlash(rel))

		if dryRun {
			if move {
				f.log.Info("(dryrun) move: %s to ftp://%s%s", local, f.config.Host, remotePath)
			} else {
				f.log.Info("(dryrun) copy: %s to ftp://%s%s", local, f.config.Host, remotePath)
			}
			continue
		}

		if err := f.storFile(ctx, local, remotePath); err != nil {
			return fmt.Errorf("failed to push %s: %w", local, err)
		}
		f.log.Debug("copy: %s to ftp://%s%s", local, f.config.Host, remotePath)

		if move {
			if err := os.Remove(local); err != nil {
				return fmt.Errorf("failed to remove %s after move: %w", local, err)
			}
		}
	}
	return nil
}

func (f *FTPStore) storFile(ctx context.Context, local, remotePath string) error {
	return f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		in, err := os.Open(local)
		if err != nil {
			return err
		}
		defer in.Close()

		dir := path.Dir(remotePath)
		if dir != "/" && dir != "." {
			if err := f.ensureDirectory(conn, dir); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		return conn.Stor(remotePath, in)
	})
}

// ensureDirectory creates directory structure recursively
func (f *FTPStore) ensureDirectory(conn *ftp.ServerConn, dirPath string) error {
	dirPath = path.Clean(dirPath)
	if dirPath == "/" || dirPath == "." {
		return nil
	}

	currentDir, err := conn.CurrentDir()
	if err != nil {
		return err
	}

	if err := conn.ChangeDir(dirPath); err == nil {
		// Directory exists, return to the original directory
		conn.ChangeDir(currentDir)
		return nil
	}

	parts := strings.Split(dirPath, "/")
	currentPath := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		currentPath = currentPath + "/" + part
		// MakeDir fails when the directory already exists, which is fine
		conn.MakeDir(currentPath)
	}

	// Verify the full path is reachable now
	if err := conn.ChangeDir(dirPath); err != nil {
		return err
	}
	return conn.ChangeDir(currentDir)
}

func (f *FTPStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var data []byte
	err := f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(f.fullPath(key))
		if err != nil {
			return err
		}
		defer resp.Close()
		data, err = io.ReadAll(resp)
		return err
	})
	if err != nil {
		if isFTPNotFound(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get %s: %w", f.URI(key), err)
	}
	// FTP has no version tags
	return data, "", nil
}

func (f *FTPStore) Put(ctx context.Context, key string, data []byte, dryRun bool) error {
	remotePath := f.fullPath(key)
	if dryRun {
		f.log.Info("(dryrun) put: %s (%d bytes)", f.URI(key), len(data))
		return nil
	}
	return f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		dir := path.Dir(remotePath)
		if dir != "/" && dir != "." {
			if err := f.ensureDirectory(conn, dir); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		return conn.Stor(remotePath, bytes.NewReader(data))
	})
}

func (f *FTPStore) PutConditional(ctx context.Context, key string, data []byte, version string) error {
	return ErrConditionalUnsupported
}

func (f *FTPStore) Delete(ctx context.Context, key string) error {
	err := f.withRetry(ctx, func(conn *ftp.ServerConn) error {
		return conn.Delete(f.fullPath(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", f.URI(key), err)
	}
	return nil
}
