// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"os"
	"strings"

	"github.com/LeeDigitalWorks/zapstore/pkg/types"
)

// Operation names used in errors, logs and metrics.
const (
	opNew          = "new"
	opPut          = "put"
	opGet          = "get"
	opLastModified = "last_modified"
	opDelete       = "delete"
	opCopy         = "copy"
)

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func validateKey(op, key string) error {
	if blank(key) {
		return invalidArgument(op, "key must be provided")
	}
	return nil
}

func validatePutFile(key string, file *os.File) error {
	if err := validateKey(opPut, key); err != nil {
		return err
	}
	if file == nil {
		return invalidArgument(opPut, "file must be provided")
	}
	return nil
}

// validatePut rejects nil content; an empty non-nil slice is a valid empty object.
func validatePut(key string, content []byte, contentType string) error {
	if err := validateKey(opPut, key); err != nil {
		return err
	}
	if content == nil {
		return invalidArgument(opPut, "content must be provided")
	}
	if blank(contentType) {
		return invalidArgument(opPut, "contentType must be provided")
	}
	return nil
}

func validateCopy(srcKey, dstKey string) error {
	if blank(srcKey) {
		return invalidArgument(opCopy, "source key must be provided")
	}
	if blank(dstKey) {
		return invalidArgument(opCopy, "destination key must be provided")
	}
	return nil
}

// ValidateLocalConfig checks the fields a local backend requires.
func ValidateLocalConfig(cfg types.BackendConfig) error {
	if blank(cfg.Path) {
		return invalidArgument(opNew, "path must be provided")
	}
	return nil
}

// ValidateS3Config checks the fields an S3 backend requires and reports the first one missing.
func ValidateS3Config(cfg types.BackendConfig) error {
	switch {
	case blank(cfg.Bucket):
		return invalidArgument(opNew, "bucket must be provided")
	case blank(cfg.AccessKey):
		return invalidArgument(opNew, "access key must be provided")
	case blank(cfg.SecretKey):
		return invalidArgument(opNew, "secret key must be provided")
	case cfg.MinPartSize <= 0:
		return invalidArgument(opNew, "minimum part size must be provided")
	case cfg.UploadThreshold <= 0:
		return invalidArgument(opNew, "upload threshold must be provided")
	case cfg.CopyPartSize <= 0:
		return invalidArgument(opNew, "copy part size must be provided")
	case cfg.CopyThreshold <= 0:
		return invalidArgument(opNew, "copy threshold must be provided")
	case cfg.WorkerCount <= 0:
		return invalidArgument(opNew, "worker count must be provided")
	case cfg.SweepInterval < 0:
		return invalidArgument(opNew, "sweep interval cannot be negative")
	}
	return nil
}
