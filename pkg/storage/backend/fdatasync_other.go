// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

// fdatasync falls back to a full Sync outside Linux.
func fdatasync(f *os.File) error {
	return f.Sync()
}

// syncDir is a no-op outside Linux; Windows cannot fsync directories.
func syncDir(dir string) error {
	return nil
}
