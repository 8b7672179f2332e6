// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/logger"
	"github.com/LeeDigitalWorks/zapstore/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

func init() {
	Register(types.StorageTypeS3, func(cfg types.BackendConfig) (types.ObjectStorage, error) {
		b, err := NewS3(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// defaultFileContentType is sent for PutFile, which has no caller-supplied type.
const defaultFileContentType = "application/octet-stream"

// ProgressFunc receives the bytes transferred so far for an upload of total bytes.
type ProgressFunc func(key string, transferred, total int64)

// S3Option customizes an S3 backend.
type S3Option func(*s3Options)

type s3Options struct {
	client   ObjectClient
	progress ProgressFunc
	now      func() time.Time
}

// WithObjectClient uses client instead of building an SDK client from config.
func WithObjectClient(client ObjectClient) S3Option {
	return func(o *s3Options) { o.client = client }
}

// WithProgress registers a callback for upload progress.
func WithProgress(fn ProgressFunc) S3Option {
	return func(o *s3Options) { o.progress = fn }
}

// S3 implements ObjectStorage for S3-compatible storage.
//
// Uploads below UploadThreshold go out as one PutObject. Larger uploads are
// split into parts of at least MinPartSize and sent concurrently by a pool of
// WorkerCount goroutines owned by this instance. Every finished put triggers
// a background sweep that aborts multipart uploads abandoned longer than the
// retention window.
type S3 struct {
	client ObjectClient
	bucket string

	minPartSize     int64
	uploadThreshold int64
	copyPartSize    int64
	copyThreshold   int64

	pool     *transferPool
	sweeper  *Sweeper
	progress ProgressFunc
	log      zerolog.Logger
	closed   atomic.Bool
}

// NewS3 creates an S3 backend. All of Bucket, AccessKey, SecretKey,
// MinPartSize, UploadThreshold, CopyPartSize, CopyThreshold and WorkerCount
// are required; Region defaults to us-east-1.
func NewS3(cfg types.BackendConfig, opts ...S3Option) (*S3, error) {
	if err := ValidateS3Config(cfg); err != nil {
		return nil, err
	}

	o := s3Options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		c, err := newS3Client(context.Background(), cfg)
		if err != nil {
			return nil, storageFailure(opNew, cfg.Bucket, "", "create s3 client", err)
		}
		client = c
	}

	log := logger.Component("s3").With().Str("bucket", cfg.Bucket).Logger()

	s := &S3{
		client:          client,
		bucket:          cfg.Bucket,
		minPartSize:     cfg.MinPartSize,
		uploadThreshold: cfg.UploadThreshold,
		copyPartSize:    cfg.CopyPartSize,
		copyThreshold:   cfg.CopyThreshold,
		pool:            newTransferPool(cfg.WorkerCount, log),
		progress:        o.progress,
		log:             log,
	}
	s.sweeper = newSweeper(client, cfg.Bucket, cfg.RetentionOrDefault(), cfg.SweepInterval, o.now, log)
	s.sweeper.start()

	log.Info().
		Str("region", cfg.RegionOrDefault()).
		Str("upload_threshold", humanize.IBytes(uint64(cfg.UploadThreshold))).
		Str("min_part_size", humanize.IBytes(uint64(cfg.MinPartSize))).
		Int("workers", cfg.WorkerCount).
		Msg("s3 backend ready")

	return s, nil
}

func (s *S3) Type() types.StorageType {
	return types.StorageTypeS3
}

// Bucket returns the configured bucket name.
func (s *S3) Bucket() string {
	return s.bucket
}

// WorkerNames returns the names of the transfer pool workers.
func (s *S3) WorkerNames() []string {
	return s.pool.WorkerNames()
}

// Sweeper returns the abandoned multipart upload sweeper owned by this backend.
func (s *S3) Sweeper() *Sweeper {
	return s.sweeper
}

func (s *S3) PutFile(ctx context.Context, key string, file *os.File) (err error) {
	if err := validatePutFile(key, file); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opPut, start, err) }()
	defer s.sweeper.Trigger()

	info, err := file.Stat()
	if err != nil {
		return storageFailure(opPut, s.bucket, key, "stat source file", err)
	}
	return s.upload(ctx, key, file, info.Size(), defaultFileContentType, start)
}

func (s *S3) Put(ctx context.Context, key string, content []byte, contentType string) (err error) {
	if err := validatePut(key, content, contentType); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opPut, start, err) }()
	defer s.sweeper.Trigger()

	return s.upload(ctx, key, bytes.NewReader(content), int64(len(content)), contentType, start)
}

func (s *S3) Get(ctx context.Context, key string) (data []byte, err error) {
	if err := validateKey(opGet, key); err != nil {
		return nil, err
	}
	if err := s.checkOpen(opGet, key); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opGet, start, err) }()

	s.log.Debug().Str("key", key).Msg("fetching object")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if out != nil && out.Body != nil {
		defer s.closeQuietly(key, out.Body)
	}
	if err != nil {
		return nil, s.classify(ctx, opGet, key, err, true)
	}
	if out == nil || out.Body == nil {
		return nil, storageFailure(opGet, s.bucket, key, "empty response", nil)
	}

	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, s.classify(ctx, opGet, key, err, false)
	}
	bytesTransferred.WithLabelValues(string(s.Type()), "read").Add(float64(len(data)))
	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("fetched object")
	return data, nil
}

// LastModified reads the object's metadata without transferring its content.
func (s *S3) LastModified(ctx context.Context, key string) (modTime time.Time, err error) {
	if err := validateKey(opLastModified, key); err != nil {
		return time.Time{}, err
	}
	if err := s.checkOpen(opLastModified, key); err != nil {
		return time.Time{}, err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opLastModified, start, err) }()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return time.Time{}, s.classify(ctx, opLastModified, key, err, true)
	}
	if out.LastModified == nil {
		return time.Time{}, storageFailure(opLastModified, s.bucket, key, "response has no last-modified time", nil)
	}
	return *out.LastModified, nil
}

func (s *S3) Delete(ctx context.Context, key string) (err error) {
	if err := validateKey(opDelete, key); err != nil {
		return err
	}
	if err := s.checkOpen(opDelete, key); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opDelete, start, err) }()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingKey(err) {
			return nil // Already gone
		}
		return s.classify(ctx, opDelete, key, err, false)
	}
	return nil
}

// Copy copies srcKey to dstKey inside the bucket. Objects of at least
// CopyThreshold bytes are copied in CopyPartSize parts on the transfer pool.
func (s *S3) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	if err := validateCopy(srcKey, dstKey); err != nil {
		return err
	}
	if err := s.checkOpen(opCopy, dstKey); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(s.Type(), opCopy, start, err) }()
	defer s.sweeper.Trigger()

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return s.classify(ctx, opCopy, srcKey, err, true)
	}
	size := aws.ToInt64(head.ContentLength)

	if size < s.copyThreshold {
		_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(copySource(s.bucket, srcKey)),
		})
		if err != nil {
			return s.classify(ctx, opCopy, dstKey, err, false)
		}
		return nil
	}
	return s.copyMultipart(ctx, srcKey, dstKey, size, aws.ToString(head.ContentType))
}

// Sweep runs one abandoned multipart upload sweep now.
func (s *S3) Sweep(ctx context.Context) (SweepStats, error) {
	if err := s.checkOpen("sweep", ""); err != nil {
		return SweepStats{}, err
	}
	stats, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return stats, storageFailure("sweep", s.bucket, "", "sweep multipart uploads", err)
	}
	return stats, nil
}

// Close stops the sweeper and the transfer pool. Queued parts finish first.
func (s *S3) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.sweeper.stop()
	s.pool.close()
	s.log.Debug().Msg("s3 backend closed")
	return nil
}

// upload sends size bytes from src to key, choosing single-shot or multipart by size.
func (s *S3) upload(ctx context.Context, key string, src io.ReaderAt, size int64, contentType string, start time.Time) error {
	if err := s.checkOpen(opPut, key); err != nil {
		return err
	}

	s.log.Debug().
		Str("key", key).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("sending object")

	var err error
	if size < s.uploadThreshold {
		err = s.uploadSingle(ctx, key, src, size, contentType)
	} else {
		err = s.uploadMultipart(ctx, key, src, size, contentType)
	}
	if err != nil {
		return err
	}

	bytesTransferred.WithLabelValues(string(s.Type()), "write").Add(float64(size))
	s.log.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("object saved")
	return nil
}

func (s *S3) uploadSingle(ctx context.Context, key string, src io.ReaderAt, size int64, contentType string) error {
	uploadsTotal.WithLabelValues("single").Inc()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          io.NewSectionReader(src, 0, size),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return s.classify(ctx, opPut, key, err, false)
	}
	s.reportProgress(key, size, size)
	return nil
}

func (s *S3) reportProgress(key string, transferred, total int64) {
	s.log.Debug().Str("key", key).Int64("transferred", transferred).Int64("total", total).Msg("transferred bytes")
	if s.progress != nil {
		s.progress(key, transferred, total)
	}
}

func (s *S3) checkOpen(op, key string) error {
	if s.closed.Load() {
		return storageFailure(op, s.bucket, key, "backend closed", nil)
	}
	return nil
}

// classify maps an S3 error to the backend taxonomy. NotFound is only
// reported when the operation's contract allows it.
func (s *S3) classify(ctx context.Context, op, key string, err error, allowNotFound bool) error {
	if allowNotFound && isMissingKey(err) {
		s.log.Debug().Str("op", op).Str("key", key).Msg("key not found")
		return notFound(op, s.bucket, key, err)
	}
	if ctx.Err() != nil {
		return storageFailure(op, s.bucket, key, "transfer interrupted", err)
	}
	s.log.Error().Err(err).Str("op", op).Str("key", key).Msg("s3 request failed")
	return storageFailure(op, s.bucket, key, "s3 request failed", err)
}

func (s *S3) closeQuietly(key string, body io.Closer) {
	if err := body.Close(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("close object body")
	}
}
