// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/logger"
	"github.com/LeeDigitalWorks/zapstore/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func init() {
	Register(types.StorageTypeLocal, func(cfg types.BackendConfig) (types.ObjectStorage, error) {
		l, err := NewLocal(cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

// Local implements ObjectStorage on a directory of the local filesystem.
// Each key is a file under the base path. Content types are not persisted.
type Local struct {
	basePath string
	log      zerolog.Logger
}

// NewLocal creates a local filesystem backend
func NewLocal(cfg types.BackendConfig) (*Local, error) {
	if err := ValidateLocalConfig(cfg); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, storageFailure(opNew, cfg.Path, "", "resolve base path", err)
	}

	// Ensure base path exists
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, storageFailure(opNew, abs, "", "create base path", err)
	}

	return &Local{
		basePath: abs,
		log:      logger.Component("local").With().Str("path", abs).Logger(),
	}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

// BasePath returns the absolute root directory.
func (l *Local) BasePath() string {
	return l.basePath
}

func (l *Local) PutFile(ctx context.Context, key string, file *os.File) (err error) {
	if err := validatePutFile(key, file); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opPut, start, err) }()

	info, err := file.Stat()
	if err != nil {
		return storageFailure(opPut, l.basePath, key, "stat source file", err)
	}
	content, err := io.ReadAll(io.NewSectionReader(file, 0, info.Size()))
	if err != nil {
		return storageFailure(opPut, l.basePath, key, "read source file", err)
	}
	return l.write(key, content, start)
}

// Put writes content to the key's file. contentType is accepted and dropped.
func (l *Local) Put(ctx context.Context, key string, content []byte, contentType string) (err error) {
	if err := validatePut(key, content, contentType); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opPut, start, err) }()

	return l.write(key, content, start)
}

func (l *Local) Get(ctx context.Context, key string) (data []byte, err error) {
	if err := validateKey(opGet, key); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opGet, start, err) }()

	path, err := l.objectPath(opGet, key)
	if err != nil {
		return nil, err
	}

	l.log.Debug().Str("key", key).Msg("reading object")
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, l.classifyRead(opGet, key, err)
	}
	bytesTransferred.WithLabelValues(string(l.Type()), "read").Add(float64(len(data)))
	return data, nil
}

func (l *Local) LastModified(ctx context.Context, key string) (modTime time.Time, err error) {
	if err := validateKey(opLastModified, key); err != nil {
		return time.Time{}, err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opLastModified, start, err) }()

	path, err := l.objectPath(opLastModified, key)
	if err != nil {
		return time.Time{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, l.classifyRead(opLastModified, key, err)
	}
	if info.IsDir() {
		return time.Time{}, storageFailure(opLastModified, l.basePath, key, "key names a directory", nil)
	}
	return info.ModTime(), nil
}

func (l *Local) Delete(ctx context.Context, key string) (err error) {
	if err := validateKey(opDelete, key); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opDelete, start, err) }()

	path, err := l.objectPath(opDelete, key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil // Already gone
	}
	l.log.Error().Err(err).Str("key", key).Msg("delete failed")
	return storageFailure(opDelete, l.basePath, key, "remove file", err)
}

// Copy duplicates srcKey's content under dstKey.
func (l *Local) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	if err := validateCopy(srcKey, dstKey); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(l.Type(), opCopy, start, err) }()

	src, err := l.objectPath(opCopy, srcKey)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return l.classifyRead(opCopy, srcKey, err)
	}
	return l.write(dstKey, content, start)
}

func (l *Local) Close() error {
	return nil
}

// write replaces the key's file by renaming a synced temp file into place,
// so readers see either the old or the new content.
func (l *Local) write(key string, content []byte, start time.Time) error {
	path, err := l.objectPath(opPut, key)
	if err != nil {
		return err
	}

	l.log.Debug().Str("key", key).Int("size", len(content)).Msg("storing object")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storageFailure(opPut, l.basePath, key, "create parent dir", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return storageFailure(opPut, l.basePath, key, "create temp file", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp) // Clean up on error
		return storageFailure(opPut, l.basePath, key, "write data", err)
	}
	if err := fdatasync(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageFailure(opPut, l.basePath, key, "sync data", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storageFailure(opPut, l.basePath, key, "close temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return storageFailure(opPut, l.basePath, key, "rename into place", err)
	}
	if err := syncDir(dir); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("directory sync failed")
	}

	bytesTransferred.WithLabelValues(string(l.Type()), "write").Add(float64(len(content)))
	l.log.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("object stored")
	return nil
}

// objectPath maps key to a file under the base path. Keys that would escape
// the base path are rejected.
func (l *Local) objectPath(op, key string) (string, error) {
	cleanKey := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if cleanKey == "" {
		return "", invalidArgument(op, "key must name a file")
	}
	path := filepath.Join(l.basePath, cleanKey)
	if !strings.HasPrefix(path, l.basePath+string(os.PathSeparator)) {
		return "", invalidArgument(op, "key resolves outside the base path")
	}
	return path, nil
}

func (l *Local) classifyRead(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(op, l.basePath, key, err)
	}
	l.log.Error().Err(err).Str("op", op).Str("key", key).Msg("read failed")
	return storageFailure(op, l.basePath, key, "read file", err)
}
