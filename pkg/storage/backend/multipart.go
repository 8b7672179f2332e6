// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// maxUploadParts is the S3 limit on parts per multipart upload.
const maxUploadParts = 10000

// abortTimeout bounds the best-effort abort issued after a failed multipart transfer.
const abortTimeout = 30 * time.Second

type partRange struct {
	offset int64
	length int64
}

// partSizeFor returns the part size for an object of size bytes: minPartSize,
// grown when needed to stay within maxUploadParts.
func partSizeFor(size, minPartSize int64) int64 {
	partSize := minPartSize
	if need := (size + maxUploadParts - 1) / maxUploadParts; need > partSize {
		partSize = need
	}
	return partSize
}

// planParts splits size bytes into consecutive ranges of partSize; the last
// range holds the remainder.
func planParts(size, partSize int64) []partRange {
	if size <= 0 || partSize <= 0 {
		return nil
	}
	parts := make([]partRange, 0, (size+partSize-1)/partSize)
	for off := int64(0); off < size; off += partSize {
		n := partSize
		if off+n > size {
			n = size - off
		}
		parts = append(parts, partRange{offset: off, length: n})
	}
	return parts
}

func (s *S3) uploadMultipart(ctx context.Context, key string, src io.ReaderAt, size int64, contentType string) error {
	uploadsTotal.WithLabelValues("multipart").Inc()
	parts := planParts(size, partSizeFor(size, s.minPartSize))

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return s.classify(ctx, opPut, key, err, false)
	}
	uploadID := aws.ToString(created.UploadId)

	s.log.Debug().
		Str("key", key).
		Str("upload_id", uploadID).
		Int("parts", len(parts)).
		Msg("multipart upload started")

	completed := make([]s3types.CompletedPart, len(parts))
	var transferred atomic.Int64

	err = s.pool.runParts(ctx, len(parts), func(ctx context.Context, log zerolog.Logger, i int) error {
		p := parts[i]
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(int32(i + 1)),
			Body:          io.NewSectionReader(src, p.offset, p.length),
			ContentLength: aws.Int64(p.length),
		})
		if err != nil {
			return err
		}
		completed[i] = s3types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(int32(i + 1)),
		}
		log.Debug().Str("key", key).Int("part", i+1).Int64("size", p.length).Msg("part uploaded")
		s.reportProgress(key, transferred.Add(p.length), size)
		return nil
	})
	if err != nil {
		s.abortUpload(ctx, key, uploadID)
		return s.classify(ctx, opPut, key, err, false)
	}

	return s.completeUpload(ctx, opPut, key, uploadID, completed)
}

func (s *S3) copyMultipart(ctx context.Context, srcKey, dstKey string, size int64, contentType string) error {
	uploadsTotal.WithLabelValues("multipart_copy").Inc()
	parts := planParts(size, partSizeFor(size, s.copyPartSize))
	source := copySource(s.bucket, srcKey)

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dstKey),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	created, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return s.classify(ctx, opCopy, dstKey, err, false)
	}
	uploadID := aws.ToString(created.UploadId)

	completed := make([]s3types.CompletedPart, len(parts))
	err = s.pool.runParts(ctx, len(parts), func(ctx context.Context, log zerolog.Logger, i int) error {
		p := parts[i]
		out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(dstKey),
			UploadId:        aws.String(uploadID),
			PartNumber:      aws.Int32(int32(i + 1)),
			CopySource:      aws.String(source),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", p.offset, p.offset+p.length-1)),
		})
		if err != nil {
			return err
		}
		var etag *string
		if out.CopyPartResult != nil {
			etag = out.CopyPartResult.ETag
		}
		completed[i] = s3types.CompletedPart{
			ETag:       etag,
			PartNumber: aws.Int32(int32(i + 1)),
		}
		log.Debug().Str("key", dstKey).Int("part", i+1).Msg("part copied")
		return nil
	})
	if err != nil {
		s.abortUpload(ctx, dstKey, uploadID)
		return s.classify(ctx, opCopy, dstKey, err, false)
	}

	return s.completeUpload(ctx, opCopy, dstKey, uploadID, completed)
}

// completeUpload finishes the upload; parts are already in part-number order.
func (s *S3) completeUpload(ctx context.Context, op, key, uploadID string, parts []s3types.CompletedPart) error {
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		s.abortUpload(ctx, key, uploadID)
		return s.classify(ctx, op, key, err, false)
	}
	s.log.Debug().
		Str("key", key).
		Str("upload_id", uploadID).
		Int("parts", len(parts)).
		Msg("multipart upload completed")
	return nil
}

// abortUpload releases the parts of a failed upload. It runs even when ctx is
// cancelled; failures are left for the sweeper.
func (s *S3) abortUpload(ctx context.Context, key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Str("upload_id", uploadID).Msg("abort multipart upload failed")
	}
}

// copySource formats bucket/key for CopySource, escaping each key segment.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
