// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies every failure a backend reports.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotFound
	ErrCodeStorageFailure
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "none"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeStorageFailure:
		return "storage_failure"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error type returned by all backend operations.
type Error struct {
	Code    ErrorCode
	Op      string // put, get, last_modified, delete, copy, new
	Bucket  string // bucket for S3, root path for local
	Key     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Bucket != "" || e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Bucket)
		b.WriteString("/")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Error constructors

func invalidArgument(op, msg string) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Op: op, Message: msg}
}

func notFound(op, bucket, key string, err error) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Op:      op,
		Bucket:  bucket,
		Key:     key,
		Message: "key not found",
		Err:     err,
	}
}

func storageFailure(op, bucket, key, msg string, err error) *Error {
	return &Error{
		Code:    ErrCodeStorageFailure,
		Op:      op,
		Bucket:  bucket,
		Key:     key,
		Message: msg,
		Err:     err,
	}
}

// CodeOf returns the classification of err. Errors that did not come from a
// backend are reported as ErrCodeStorageFailure; nil is ErrCodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeStorageFailure
}

// IsInvalidArgument reports whether err is a validation failure.
func IsInvalidArgument(err error) bool {
	return CodeOf(err) == ErrCodeInvalidArgument
}

// IsNotFound reports whether err means the key has no stored object.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsStorageFailure reports whether err is an I/O, network or backend failure.
func IsStorageFailure(err error) bool {
	return CodeOf(err) == ErrCodeStorageFailure
}
