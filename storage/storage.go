// Package storage publishes feed documents and companion pages to an
// S3-compatible bucket.
//
// Objects are written with their content type so that the bucket can be
// served directly over HTTPS (the feed's self link and companion links point
// at it). Reads and deletes are keyed; a missing object is reported as
// consts.ErrObjectNotFound.
//
//	s3, err := storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey,
//		cfg.S3.Bucket, !cfg.S3.DisableTLS, cfg.S3.Debug)
//	if err != nil {
//		log.Fatal(err)
//	}
//	data, err := s3.Get(ctx, "sender-domain-com.xml")
//	if errors.Is(err, consts.ErrObjectNotFound) {
//		// first message from this sender
//	}
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/metrics"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Storage struct {
	Client     *minio.Client
	BucketName string
}

func New(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, debug bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		logger.Error("STORAGE: Failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if debug {
		client.TraceOn(os.Stdout)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// EnsureBucket verifies that the bucket is reachable and creates it when it
// does not exist yet.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.BucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.BucketName, err)
	}
	if exists {
		return nil
	}
	if err := s.Client.MakeBucket(ctx, s.BucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.BucketName, err)
	}
	logger.Info("STORAGE: Created bucket", "bucket", s.BucketName)
	return nil
}

// Ping reports whether the bucket is reachable with the configured
// credentials.
func (s *S3Storage) Ping(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.BucketName)
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.BucketName, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.BucketName)
	}
	return nil
}

// Get returns the full content of key, or consts.ErrObjectNotFound.
func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.S3OperationDuration.WithLabelValues("GET").Observe(time.Since(start).Seconds())
	}()

	object, err := s.Client.GetObject(ctx, s.BucketName, key, minio.GetObjectOptions{})
	if err == nil {
		defer object.Close()
		// GetObject is lazy; errors such as NoSuchKey surface on the first read.
		var data []byte
		data, err = io.ReadAll(object)
		if err == nil {
			metrics.S3OperationsTotal.WithLabelValues("GET", "success").Inc()
			return data, nil
		}
	}

	if isNotFound(err) {
		metrics.S3OperationsTotal.WithLabelValues("GET", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", consts.ErrObjectNotFound, key)
	}
	metrics.S3OperationsTotal.WithLabelValues("GET", classifyS3Error(err)).Inc()
	return nil, fmt.Errorf("failed to get object %s: %w", key, err)
}

// Put writes data to key, replacing any existing object.
func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()

	_, err := s.Client.PutObject(ctx, s.BucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:    contentType,
			SendContentMd5: true,
		})
	metrics.S3OperationDuration.WithLabelValues("PUT").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("PUT", classifyS3Error(err)).Inc()
		return fmt.Errorf("%w: %s: %w", consts.ErrS3UploadFailed, key, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("PUT", "success").Inc()
	return nil
}

// DeleteMany removes keys in one batch request. S3 reports missing keys as
// deleted, so only genuine failures are returned, joined into one error.
func (s *S3Storage) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	var errs []error
	for rErr := range s.Client.RemoveObjects(ctx, s.BucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err == nil || isNotFound(rErr.Err) {
			continue
		}
		logger.Warn("STORAGE: Failed to delete object", "key", rErr.ObjectName, "error", rErr.Err)
		errs = append(errs, fmt.Errorf("%s: %w", rErr.ObjectName, rErr.Err))
	}
	metrics.S3OperationDuration.WithLabelValues("DELETE").Observe(time.Since(start).Seconds())

	if len(errs) > 0 {
		metrics.S3OperationsTotal.WithLabelValues("DELETE", "error").Inc()
		return fmt.Errorf("failed to delete %d of %d objects: %w", len(errs), len(keys), errors.Join(errs...))
	}
	metrics.S3OperationsTotal.WithLabelValues("DELETE", "success").Inc()
	return nil
}

// isNotFound matches a missing object only. A missing bucket also answers
// 404 but must surface as a failure.
func isNotFound(err error) bool {
	return s3ErrorCode(err) == "NoSuchKey"
}

func s3ErrorCode(err error) string {
	var resp minio.ErrorResponse
	if err == nil || !errors.As(err, &resp) {
		return ""
	}
	return resp.Code
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case isNotFound(err):
		return "not_found"
	case s3ErrorCode(err) == "NoSuchBucket":
		return "no_bucket"
	case strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case strings.Contains(errStr, "SlowDown") || strings.Contains(errStr, "RequestLimitExceeded"):
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "error"
	}
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	if errors.Is(err, consts.ErrObjectNotFound) || errors.Is(err, context.Canceled) {
		return true
	}
	switch classifyS3Error(err) {
	case "access_denied", "not_found", "no_bucket":
		return true
	}
	return false
}
