// Package export uploads collected trace footprints to object storage. One
// trace session becomes one object per target, JSON lines keyed
// <prefix>/<session>/<pid>.jsonl, so a consumer can fetch a single app's
// launch footprint without parsing anyone else's.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pagetrace/pagetrace/internal/circuit"
	configpkg "github.com/pagetrace/pagetrace/internal/config"
	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/retry"
	"github.com/pagetrace/pagetrace/pkg/types"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// S3API is the slice of the S3 client the uploader needs. Tests substitute a
// fake; production passes *s3.Client.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// record is the wire form of one resolved fault, one JSON object per line.
type record struct {
	Path    string    `json:"path"`
	Offset  uint64    `json:"offset"`
	Time    time.Time `json:"time"`
	Deleted bool      `json:"deleted,omitempty"`
}

// manifest is the wire form of the per-target header line that precedes the
// records.
type manifest struct {
	PID       int32     `json:"pid"`
	Records   int       `json:"records"`
	Truncated bool      `json:"truncated"`
	Uploaded  time.Time `json:"uploaded"`
}

// Uploader ships footprints to a bucket, with retry on transient failures
// and a circuit breaker so a dead endpoint fails fast instead of stalling
// every collect cycle.
type Uploader struct {
	client  S3API
	bucket  string
	prefix  string
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	logger  *utils.StructuredLogger
}

// NewUploader builds an uploader from the export configuration, creating the
// real S3 client. Static credentials in the config take precedence over the
// ambient AWS credential chain.
func NewUploader(ctx context.Context, cfg configpkg.ExportConfig, logger *utils.StructuredLogger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "export bucket is not set").
			WithComponent("export")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConnectionFailed, "failed to load AWS config").
			WithComponent("export").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewUploaderWithClient(client, cfg, logger), nil
}

// NewUploaderWithClient wires an uploader over an existing client.
func NewUploaderWithClient(client S3API, cfg configpkg.ExportConfig, logger *utils.StructuredLogger) *Uploader {
	if logger == nil {
		logger, _ = utils.NewStructuredLogger(nil)
	}

	retryer := retry.New(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Jitter:       true,
		// CONNECTION_FAILED is deliberately absent: the uploader only emits
		// it for a circuit-broken endpoint, which must fail fast.
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeUploadFailed,
			errors.ErrCodeOperationTimeout,
		},
	})

	var breaker *circuit.CircuitBreaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuit.NewCircuitBreaker("export",
			circuit.FromThreshold(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.Timeout))
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "footprints"
	}

	return &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		retryer: retryer,
		breaker: breaker,
		logger:  logger.WithComponent("export"),
	}
}

// Breaker exposes the breaker for health reporting. Nil when disabled.
func (u *Uploader) Breaker() *circuit.CircuitBreaker {
	return u.breaker
}

// Upload ships one object per footprint. A failed target aborts the batch:
// the caller still holds the footprints and decides whether to retry the
// session or drop it.
func (u *Uploader) Upload(ctx context.Context, sessionID string, footprints []types.TargetFootprint) error {
	if sessionID == "" || strings.ContainsAny(sessionID, "/ ") {
		return errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("session id %q must be a non-empty key segment", sessionID)).
			WithComponent("export").WithOperation("upload")
	}

	for _, fp := range footprints {
		if err := u.uploadOne(ctx, sessionID, fp); err != nil {
			return err
		}
	}

	u.logger.Info("session uploaded", map[string]interface{}{
		"session": sessionID,
		"targets": len(footprints),
	})
	return nil
}

func (u *Uploader) uploadOne(ctx context.Context, sessionID string, fp types.TargetFootprint) error {
	// SecureJoin keeps a hostile session id from escaping the key prefix.
	key, err := utils.SecureJoin(u.prefix, sessionID, fmt.Sprintf("%d.jsonl", fp.PID))
	if err != nil {
		return errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("session id %q escapes the export prefix", sessionID)).
			WithComponent("export").WithOperation("upload").
			WithCause(err)
	}

	body, err := encode(fp)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError,
			fmt.Sprintf("encoding footprint for pid %d", fp.PID)).
			WithComponent("export").WithOperation("upload").
			WithCause(err)
	}

	put := func(ctx context.Context) error {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return errors.NewError(errors.ErrCodeUploadFailed,
				fmt.Sprintf("put %s failed", key)).
				WithComponent("export").WithOperation("upload").
				WithCause(err)
		}
		return nil
	}

	u.logger.Debug("uploading footprint", map[string]interface{}{
		"key":  key,
		"size": utils.FormatBytes(int64(len(body))),
	})

	attempt := func(ctx context.Context) error {
		if u.breaker == nil {
			return put(ctx)
		}
		err := u.breaker.ExecuteWithContext(ctx, put)
		if err == circuit.ErrOpenState || err == circuit.ErrTooManyRequests {
			// Fail the whole batch immediately; retrying against an open
			// breaker just burns the backoff budget.
			return errors.NewError(errors.ErrCodeConnectionFailed,
				"export endpoint is circuit-broken").
				WithComponent("export").WithOperation("upload").
				WithRetryable(false).
				WithCause(err)
		}
		return err
	}

	return u.retryer.DoWithContext(ctx, attempt)
}

// encode renders a footprint as JSON lines: a manifest line, then one line
// per record.
func encode(fp types.TargetFootprint) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	head := manifest{
		PID:       fp.PID,
		Records:   len(fp.Records),
		Truncated: fp.Truncated,
		Uploaded:  time.Now().UTC(),
	}
	if err := enc.Encode(head); err != nil {
		return nil, err
	}
	for _, md := range fp.Records {
		if err := enc.Encode(record{
			Path:    md.Path,
			Offset:  md.Offset,
			Time:    md.Time,
			Deleted: md.Deleted,
		}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
