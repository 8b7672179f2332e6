// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/logger"
	"github.com/LeeDigitalWorks/zapstore/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapstore/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func addStorageFlags(f *pflag.FlagSet) {
	f.String("backend", string(types.StorageTypeLocal), "Storage backend: local or s3")
	f.String("backend_id", "", "Read backend settings from the [backends.<id>] config section")

	// Local
	f.String("path", "./data", "Root directory for the local backend")

	// S3
	f.String("bucket", "", "S3 bucket")
	f.String("access_key", "", "S3 access key")
	f.String("secret_key", "", "S3 secret key")
	f.String("region", types.DefaultRegion, "S3 region")
	f.String("endpoint", "", "S3 endpoint URL for S3-compatible stores (empty for AWS)")
	f.Bool("path_style", false, "Use path-style S3 addressing")
	f.String("min_part_size", "5MiB", "Minimum multipart upload part size")
	f.String("upload_threshold", "16MiB", "Uploads of at least this size use multipart")
	f.String("copy_part_size", "5MiB", "Multipart copy part size")
	f.String("copy_threshold", "50MiB", "Copies of at least this size use multipart")
	f.Int("workers", 10, "Transfer worker goroutines per S3 backend")
	f.Duration("sweep_retention", types.DefaultSweepRetention, "Abort multipart uploads older than this")
}

// loadBackendConfig builds a BackendConfig from flags, env and config file.
func loadBackendConfig(cmd *cobra.Command) (types.BackendConfig, error) {
	return loadSectionConfig(cmd, NewFlagLoader(cmd).String("backend_id"))
}

// loadSectionConfig builds the BackendConfig for the [backends.<id>] section,
// falling back to top-level settings for keys the section does not set.
func loadSectionConfig(cmd *cobra.Command, id string) (types.BackendConfig, error) {
	f := NewFlagLoader(cmd)
	if id != "" {
		f = f.WithSection("backends." + id)
	}

	cfg := types.BackendConfig{
		Type:           types.StorageType(f.String("backend")),
		Path:           f.String("path"),
		Bucket:         f.String("bucket"),
		AccessKey:      f.String("access_key"),
		SecretKey:      f.String("secret_key"),
		Region:         f.String("region"),
		Endpoint:       f.String("endpoint"),
		PathStyle:      f.Bool("path_style"),
		WorkerCount:    f.Int("workers"),
		SweepRetention: f.Duration("sweep_retention"),
	}

	var err error
	if cfg.MinPartSize, err = f.Size("min_part_size"); err != nil {
		return cfg, err
	}
	if cfg.UploadThreshold, err = f.Size("upload_threshold"); err != nil {
		return cfg, err
	}
	if cfg.CopyPartSize, err = f.Size("copy_part_size"); err != nil {
		return cfg, err
	}
	if cfg.CopyThreshold, err = f.Size("copy_threshold"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openStorage creates the configured backend. sweepInterval is only used by S3.
func openStorage(cmd *cobra.Command, sweepInterval time.Duration) (types.ObjectStorage, error) {
	cfg, err := loadBackendConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = sweepInterval

	storage, err := backend.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("backend", string(storage.Type())).Msg("storage opened")
	return storage, nil
}

// openManager creates one backend per section id. The caller closes the manager.
func openManager(cmd *cobra.Command, ids ...string) (*backend.Manager, error) {
	m := backend.NewManager()
	for _, id := range ids {
		cfg, err := loadSectionConfig(cmd, id)
		if err != nil {
			m.Close()
			return nil, err
		}
		if err := m.Add(id, cfg); err != nil {
			m.Close()
			return nil, err
		}
		logger.Debug().Str("id", id).Str("backend", string(cfg.Type)).Msg("storage opened")
	}
	return m, nil
}
