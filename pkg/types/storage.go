// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"os"
	"strings"
	"time"
)

// StorageType identifies the backend storage implementation
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // Local filesystem
	StorageTypeS3    StorageType = "s3"    // S3-compatible
)

// DefaultRegion is used when an S3 backend is configured without a region.
const DefaultRegion = "us-east-1"

// DefaultSweepRetention is how old an incomplete multipart upload must be
// before the sweeper aborts it.
const DefaultSweepRetention = time.Hour

// ObjectStorage is the contract every backend implements.
// Callers depend on this interface and receive a local or S3 backend by configuration.
//
// Failures are reported as *backend.Error values classified as
// InvalidArgument, NotFound or StorageFailure.
type ObjectStorage interface {
	// Type returns the storage type
	Type() StorageType

	// PutFile stores the full content of file under key, replacing any existing object.
	PutFile(ctx context.Context, key string, file *os.File) error

	// Put stores content under key with the given content type.
	// Backends that cannot persist a content type accept and drop it.
	Put(ctx context.Context, key string, content []byte, contentType string) error

	// Get returns the full content stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// LastModified returns the modification time of the object stored under key.
	LastModified(ctx context.Context, key string) (time.Time, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources
	Close() error
}

// Copier is implemented by backends that can copy an object to a new key
// without the caller moving the bytes.
type Copier interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// BackendConfig contains configuration for creating a backend storage instance.
// Sizes are in bytes.
type BackendConfig struct {
	Type StorageType `json:"type" mapstructure:"type"`

	// Local
	Path string `json:"path,omitempty" mapstructure:"path"`

	// S3
	Bucket    string `json:"bucket,omitempty" mapstructure:"bucket"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Region    string `json:"region,omitempty" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	PathStyle bool   `json:"path_style,omitempty" mapstructure:"path_style"`

	MinPartSize     int64 `json:"min_part_size,omitempty" mapstructure:"min_part_size"`
	UploadThreshold int64 `json:"upload_threshold,omitempty" mapstructure:"upload_threshold"`
	CopyPartSize    int64 `json:"copy_part_size,omitempty" mapstructure:"copy_part_size"`
	CopyThreshold   int64 `json:"copy_threshold,omitempty" mapstructure:"copy_threshold"`
	WorkerCount     int   `json:"worker_count,omitempty" mapstructure:"worker_count"`

	// SweepRetention is the age after which incomplete multipart uploads are aborted.
	// Zero means DefaultSweepRetention.
	SweepRetention time.Duration `json:"sweep_retention,omitempty" mapstructure:"sweep_retention"`
	// SweepInterval runs the sweeper periodically when > 0. Sweeps triggered by puts run regardless.
	SweepInterval time.Duration `json:"sweep_interval,omitempty" mapstructure:"sweep_interval"`
}

// RegionOrDefault returns the configured region, or DefaultRegion when blank.
func (c BackendConfig) RegionOrDefault() string {
	if strings.TrimSpace(c.Region) == "" {
		return DefaultRegion
	}
	return c.Region
}

// RetentionOrDefault returns the configured sweep retention or DefaultSweepRetention.
func (c BackendConfig) RetentionOrDefault() time.Duration {
	if c.SweepRetention <= 0 {
		return DefaultSweepRetention
	}
	return c.SweepRetention
}
