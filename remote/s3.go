package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"

	s3config "github.com/aws/aws-sdk-go-v2/config"
)

var _ Store = (*S3Store)(nil)

// S3API is the slice of the S3 client this store uses, kept as an interface
// so tests can provide a custom implementation.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client       S3API
	config       *config.S3Config
	common       *config.CommonRemoteConfig
	limiter      *rate.Limiter
	log          logger.Logger
	requestCount int64
}

func NewS3Store(cfg *config.S3Config, common *config.CommonRemoteConfig, log logger.Logger) (*S3Store, error) {
	ctx := context.TODO()

	common.ApplyDefaults()
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	var limiter *rate.Limiter
	if common.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(common.MaxRPS), common.MaxRPS)
	}

	// For S3-compatible storage, region is often just a placeholder
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*s3config.LoadOptions) error{
		s3config.WithRegion(region),
		// Suppress AWS SDK logging warnings about missing checksums
		s3config.WithClientLogMode(0),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, s3config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	s3cfg, err := s3config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	client := s3.NewFromConfig(s3cfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing for S3-compatible storage
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		config:  cfg,
		common:  common,
		limiter: limiter,
		log:     log,
	}, nil
}

// NewS3StoreWithClient wires a pre-built client, used by tests.
func NewS3StoreWithClient(client S3API, cfg *config.S3Config, common *config.CommonRemoteConfig, log logger.Logger) *S3Store {
	common.ApplyDefaults()
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &S3Store{client: client, config: cfg, common: common, log: log}
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, strings.TrimPrefix(key, "/"))
}

// withRetry executes op with rate limiting, a per-attempt timeout and
// exponential backoff between attempts.
func (s *S3Store) withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	retries := s.common.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter error: %w", err)
			}
		}
		atomic.AddInt64(&s.requestCount, 1)

		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.common.TimeoutSeconds)*time.Second)
		err := op(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		backoff := time.Duration(math.Pow(2, float64(i))) * 200 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}

// Exists queries the bucket for any key under the given prefix. An API error
// is propagated, it does not report Absent.
func (s *S3Store) Exists(ctx context.Context, key string) (Existence, error) {
	var found bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.config.Bucket),
			Prefix:  aws.String(strings.TrimPrefix(key, "/")),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return err
		}
		found = resp.KeyCount != nil && *resp.KeyCount > 0
		return nil
	})
	if err != nil {
		return Absent, fmt.Errorf("existence check for %s failed: %w", s.URI(key), err)
	}
	if found {
		return Present, nil
	}
	return Absent, nil
}

// listKeys returns every key under prefix, following continuation tokens.
func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys              []string
		continuationToken *string
	)
	prefix = strings.TrimPrefix(prefix, "/")

	for {
		var resp *s3.ListObjectsV2Output
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			resp, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.config.Bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in %s: %w", s.URI(prefix), err)
		}

		for _, v := range resp.Contents {
			keys = append(keys, *v.Key)
		}

		if resp.IsTruncated != nil && aws.ToBool(resp.IsTruncated) {
			continuationToken = resp.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}

// includeMatch mirrors the `--exclude "*" --include "*<substring>*"` filter:
// empty include matches everything, otherwise the base name must contain it.
func includeMatch(name, include string) bool {
	return include == "" || strings.Contains(path.Base(name), include)
}

func (s *S3Store) Pull(ctx context.Context, remoteKey, localDir, include string, dryRun bool) error {
	prefix := strings.TrimSuffix(strings.TrimPrefix(remoteKey, "/"), "/") + "/"

	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if !includeMatch(key, include) {
			continue
		}
		rel := strings.TrimPrefix(key, prefix)
		local := filepath.Join(localDir, filepath.FromSlash(rel))

		if dryRun {
			s.log.Info("(dryrun) copy: %s to %s", s.URI(key), local)
			continue
		}

		if err := s.downloadObject(ctx, key, local); err != nil {
			return fmt.Errorf("failed to pull %s: %w", s.URI(key), err)
		}
		s.log.Debug("copy: %s to %s", s.URI(key), local)
	}
	return nil
}

func (s *S3Store) downloadObject(ctx context.Context, key, local string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return err
		}
		f, err := os.Create(local)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

func (s *S3Store) Push(ctx context.Context, localDir, remoteKey, include string, move, dryRun bool) error {
	base := strings.TrimSuffix(strings.TrimPrefix(remoteKey, "/"), "/")

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

	for _, f := range files {
		rel, err := filepath.Rel(localDir, f)
		if err != nil {
			return err
		}
		key := base + "/" + filepath.ToSlash(rel)

		if dryRun {
			if move {
				s.log.Info("(dryrun) move: %s to %s", f, s.URI(key))
			} else {
				s.log.Info("(dryrun) copy: %s to %s", f, s.URI(key))
			}
			continue
		}

		if err := s.uploadFile(ctx, f, key); err != nil {
			return fmt.Errorf("failed to push %s: %w", f, err)
		}
		s.log.Debug("copy: %s to %s", f, s.URI(key))

		if move {
			if err := os.Remove(f); err != nil {
				return fmt.Errorf("failed to remove %s after move: %w", f, err)
			}
		}
	}
	return nil
}

func (s *S3Store) uploadFile(ctx context.Context, local, key string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	var (
		data    []byte
		version string
	)
	key = strings.TrimPrefix(key, "/")
	err := s.withRetry(ctx, func(ctx context.Context) error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.ETag != nil {
			version = *resp.ETag
		}
		return nil
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get %s: %w", s.URI(key), err)
	}
	return data, version, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, dryRun bool) error {
	key = strings.TrimPrefix(key, "/")
	if dryRun {
		s.log.Info("(dryrun) put: %s (%d bytes)", s.URI(key), len(data))
		return nil
	}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", s.URI(key), err)
	}
	return nil
}

// PutConditional writes key only if the remote object still carries the given
// ETag. An empty version demands the object does not exist yet.
func (s *S3Store) PutConditional(ctx context.Context, key string, data []byte, version string) error {
	key = strings.TrimPrefix(key, "/")
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if version == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(version)
	}

	// No retry wrapper here: a 412 must surface immediately so the caller can
	// re-merge instead of hammering the same stale write.
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}
	}
	atomic.AddInt64(&s.requestCount, 1)

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.common.TimeoutSeconds)*time.Second)
	defer cancel()

	_, err := s.client.PutObject(reqCtx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("failed to put %s: %w", s.URI(key), err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	key = strings.TrimPrefix(key, "/")
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.URI(key), err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "PreconditionFailed"
	}
	return false
}
