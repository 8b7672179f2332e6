// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// memClient is an in-memory ObjectClient for one bucket with real multipart
// semantics: parts are held per upload until completed or aborted.
type memClient struct {
	bucket string

	mu      sync.Mutex
	objects map[string]memObject
	uploads map[string]*memUpload
	clock   time.Time
	calls   map[string]int

	// failures returns an error for an operation before it runs; nil means proceed.
	failures func(op string, partNumber int32) error
	// pageSize limits ListMultipartUploads pages (default 1000).
	pageSize int

	openBodies atomic.Int64
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type memUpload struct {
	key         string
	contentType string
	initiated   time.Time
	parts       map[int32]memPart
}

type memPart struct {
	data []byte
	etag string
}

var _ ObjectClient = (*memClient)(nil)

func newMemClient(bucket string) *memClient {
	return &memClient{
		bucket:  bucket,
		objects: make(map[string]memObject),
		uploads: make(map[string]*memUpload),
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:   make(map[string]int),
	}
}

// tick advances the fake clock so every mutation gets a distinct timestamp.
func (c *memClient) tick() time.Time {
	c.clock = c.clock.Add(time.Second)
	return c.clock
}

// Now reads the fake clock.
func (c *memClient) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

func (c *memClient) enter(op string, partNumber int32) error {
	c.mu.Lock()
	c.calls[op]++
	fail := c.failures
	c.mu.Unlock()
	if fail != nil {
		return fail(op, partNumber)
	}
	return nil
}

func (c *memClient) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *memClient) setFailures(fn func(op string, partNumber int32) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = fn
}

func (c *memClient) object(key string) (memObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[key]
	return obj, ok
}

func (c *memClient) uploadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

// seed stores an object directly, bypassing the backend.
func (c *memClient) seed(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = memObject{data: data, contentType: "application/octet-stream", modified: c.tick()}
}

// addUpload registers an in-progress upload initiated at the given time.
func (c *memClient) addUpload(key string, initiated time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.uploads[id] = &memUpload{key: key, initiated: initiated, parts: make(map[int32]memPart)}
	return id
}

func (c *memClient) checkBucket(bucket *string) error {
	if aws.ToString(bucket) != c.bucket {
		return &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	}
	return nil
}

func (c *memClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := c.enter("PutObject", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[aws.ToString(in.Key)] = memObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		modified:    c.tick(),
	}
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("%q", uuid.NewString()))}, nil
}

type trackedBody struct {
	io.Reader
	closed bool
	open   *atomic.Int64
}

func (b *trackedBody) Close() error {
	if !b.closed {
		b.closed = true
		b.open.Add(-1)
	}
	return nil
}

func (c *memClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := c.enter("GetObject", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	c.mu.Lock()
	obj, ok := c.objects[aws.ToString(in.Key)]
	c.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	c.openBodies.Add(1)
	return &s3.GetObjectOutput{
		Body:          &trackedBody{Reader: bytes.NewReader(obj.data), open: &c.openBodies},
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (c *memClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := c.enter("HeadObject", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	c.mu.Lock()
	obj, ok := c.objects[aws.ToString(in.Key)]
	c.mu.Unlock()
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (c *memClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := c.enter("DeleteObject", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// sourceKey parses "bucket/key" as produced by copySource.
func (c *memClient) sourceKey(source *string) (string, error) {
	bucket, key, ok := strings.Cut(aws.ToString(source), "/")
	if !ok {
		return "", &smithy.GenericAPIError{Code: "InvalidArgument", Message: "bad copy source"}
	}
	if bucket != c.bucket {
		return "", &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	}
	return url.PathUnescape(key)
}

func (c *memClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := c.enter("CopyObject", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	srcKey, err := c.sourceKey(in.CopySource)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.objects[srcKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	c.objects[aws.ToString(in.Key)] = memObject{
		data:        append([]byte(nil), src.data...),
		contentType: src.contentType,
		modified:    c.tick(),
	}
	return &s3.CopyObjectOutput{}, nil
}

func (c *memClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if err := c.enter("CreateMultipartUpload", 0); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.uploads[id] = &memUpload{
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		initiated:   c.clock,
		parts:       make(map[int32]memPart),
	}
	return &s3.CreateMultipartUploadOutput{
		Bucket:   in.Bucket,
		Key:      in.Key,
		UploadId: aws.String(id),
	}, nil
}

func (c *memClient) storePart(uploadID string, partNumber int32, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	up, ok := c.uploads[uploadID]
	if !ok {
		return "", &s3types.NoSuchUpload{}
	}
	etag := fmt.Sprintf("%q", uuid.NewString())
	up.parts[partNumber] = memPart{data: data, etag: etag}
	return etag, nil
}

func (c *memClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if err := c.enter("UploadPart", aws.ToInt32(in.PartNumber)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentLength != nil && aws.ToInt64(in.ContentLength) != int64(len(data)) {
		return nil, &smithy.GenericAPIError{Code: "IncompleteBody", Message: "content length mismatch"}
	}
	etag, err := c.storePart(aws.ToString(in.UploadId), aws.ToInt32(in.PartNumber), data)
	if err != nil {
		return nil, err
	}
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (c *memClient) UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, _ ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	if err := c.enter("UploadPartCopy", aws.ToInt32(in.PartNumber)); err != nil {
		return nil, err
	}
	srcKey, err := c.sourceKey(in.CopySource)
	if err != nil {
		return nil, err
	}
	var first, last int
	if _, err := fmt.Sscanf(aws.ToString(in.CopySourceRange), "bytes=%d-%d", &first, &last); err != nil {
		return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: "bad copy source range"}
	}

	c.mu.Lock()
	src, ok := c.objects[srcKey]
	c.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	if first < 0 || last >= len(src.data) || first > last {
		return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "range out of bounds"}
	}

	data := append([]byte(nil), src.data[first:last+1]...)
	etag, err := c.storePart(aws.ToString(in.UploadId), aws.ToInt32(in.PartNumber), data)
	if err != nil {
		return nil, err
	}
	return &s3.UploadPartCopyOutput{
		CopyPartResult: &s3types.CopyPartResult{ETag: aws.String(etag)},
	}, nil
}

func (c *memClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if err := c.enter("CompleteMultipartUpload", 0); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := aws.ToString(in.UploadId)
	up, ok := c.uploads[id]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	if in.MultipartUpload == nil || len(in.MultipartUpload.Parts) == 0 {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "no parts"}
	}

	var buf bytes.Buffer
	prev := int32(0)
	for _, p := range in.MultipartUpload.Parts {
		n := aws.ToInt32(p.PartNumber)
		if n <= prev {
			return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Message: "parts out of order"}
		}
		prev = n
		stored, ok := up.parts[n]
		if !ok || stored.etag != aws.ToString(p.ETag) {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: fmt.Sprintf("part %d", n)}
		}
		buf.Write(stored.data)
	}

	c.objects[up.key] = memObject{
		data:        buf.Bytes(),
		contentType: up.contentType,
		modified:    c.tick(),
	}
	delete(c.uploads, id)
	return &s3.CompleteMultipartUploadOutput{Key: aws.String(up.key)}, nil
}

func (c *memClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if err := c.enter("AbortMultipartUpload", 0); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := aws.ToString(in.UploadId)
	if _, ok := c.uploads[id]; !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	delete(c.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *memClient) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	if err := c.enter("ListMultipartUploads", 0); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	type entry struct {
		id string
		up *memUpload
	}
	all := make([]entry, 0, len(c.uploads))
	for id, up := range c.uploads {
		all = append(all, entry{id: id, up: up})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].up.key != all[j].up.key {
			return all[i].up.key < all[j].up.key
		}
		return all[i].id < all[j].id
	})

	keyMarker, idMarker := aws.ToString(in.KeyMarker), aws.ToString(in.UploadIdMarker)
	start := 0
	if keyMarker != "" {
		start = len(all)
		for i, e := range all {
			if e.up.key > keyMarker || (e.up.key == keyMarker && e.id > idMarker) {
				start = i
				break
			}
		}
	}

	limit := c.pageSize
	if limit <= 0 {
		limit = 1000
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	out := &s3.ListMultipartUploadsOutput{
		Bucket:      in.Bucket,
		IsTruncated: aws.Bool(end < len(all)),
	}
	for _, e := range all[start:end] {
		out.Uploads = append(out.Uploads, s3types.MultipartUpload{
			Key:       aws.String(e.up.key),
			UploadId:  aws.String(e.id),
			Initiated: aws.Time(e.up.initiated),
		})
	}
	if end < len(all) {
		last := all[end-1]
		out.NextKeyMarker = aws.String(last.up.key)
		out.NextUploadIdMarker = aws.String(last.id)
	}
	return out, nil
}
