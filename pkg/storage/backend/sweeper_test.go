// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_AbortsOnlyExpired(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	now := client.Now()
	client.addUpload("old", now.Add(-2*time.Hour))
	client.addUpload("edge", now.Add(-time.Hour))
	fresh := client.addUpload("fresh", now.Add(-10*time.Minute))

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 3, Aborted: 1}, stats)
	assert.Equal(t, 2, client.uploadCount())

	client.mu.Lock()
	_, kept := client.uploads[fresh]
	client.mu.Unlock()
	assert.True(t, kept)
}

func TestSweep_CustomRetention(t *testing.T) {
	t.Parallel()

	cfg := testS3Config()
	cfg.SweepRetention = 15 * time.Minute
	s, client := newTestS3(t, cfg)
	client.addUpload("a", client.Now().Add(-20*time.Minute))
	client.addUpload("b", client.Now().Add(-5*time.Minute))

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Aborted)
	assert.Equal(t, 1, client.uploadCount())
	assert.Equal(t, 15*time.Minute, s.Sweeper().Retention())
}

func TestSweep_Paginates(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	client.pageSize = 2
	old := client.Now().Add(-3 * time.Hour)
	for _, key := range []string{"a", "b", "b", "c", "d"} {
		client.addUpload(key, old)
	}

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Scanned)
	assert.Equal(t, 5, stats.Aborted)
	assert.Zero(t, client.uploadCount())
	assert.Equal(t, 3, client.callCount("ListMultipartUploads"))
}

func TestSweep_AbortFailureContinues(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	old := client.Now().Add(-2 * time.Hour)
	client.addUpload("a", old)
	client.addUpload("b", old)
	client.setFailures(func(op string, _ int32) error {
		if op == "AbortMultipartUpload" {
			return &smithy.GenericAPIError{Code: "InternalError"}
		}
		return nil
	})

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 2, Failed: 2}, stats)
	assert.Equal(t, 2, client.uploadCount())
}

func TestSweep_ListFailure(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	client.setFailures(func(op string, _ int32) error {
		if op == "ListMultipartUploads" {
			return &smithy.GenericAPIError{Code: "AccessDenied"}
		}
		return nil
	})

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, IsStorageFailure(err))
}

func TestSweep_TriggeredByPut(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	client.addUpload("abandoned", client.Now().Add(-2*time.Hour))

	require.NoError(t, s.Put(context.Background(), "k", []byte("v"), "text/plain"))
	require.Eventually(t, func() bool {
		return client.uploadCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSweep_PendingPassRunsOnClose(t *testing.T) {
	t.Parallel()

	ops := map[string]func(s *S3) error{
		"put": func(s *S3) error {
			return s.Put(context.Background(), "k", []byte("v"), "text/plain")
		},
		"copy": func(s *S3) error {
			return s.Copy(context.Background(), "src", "dst")
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			for i := 0; i < 20; i++ {
				client := newMemClient("test-bucket")
				s, err := NewS3(testS3Config(), WithObjectClient(client), withClock(client.Now))
				require.NoError(t, err)
				client.seed("src", []byte("source"))
				client.addUpload("abandoned", client.Now().Add(-2*time.Hour))

				require.NoError(t, op(s))
				require.NoError(t, s.Close())
				assert.Equal(t, 0, client.uploadCount(), "run %d", i)
			}
		})
	}
}

func TestSweep_FailureDoesNotFailPut(t *testing.T) {
	t.Parallel()

	s, client := newTestS3(t, testS3Config())
	client.setFailures(func(op string, _ int32) error {
		if op == "ListMultipartUploads" {
			return &smithy.GenericAPIError{Code: "AccessDenied"}
		}
		return nil
	})

	require.NoError(t, s.Put(context.Background(), "k", []byte("v"), "text/plain"))
	require.Eventually(t, func() bool {
		return client.callCount("ListMultipartUploads") > 0
	}, 5*time.Second, 10*time.Millisecond)

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestSweep_Interval(t *testing.T) {
	t.Parallel()

	cfg := testS3Config()
	cfg.SweepInterval = 20 * time.Millisecond
	_, client := newTestS3(t, cfg)
	client.addUpload("abandoned", client.Now().Add(-2*time.Hour))

	require.Eventually(t, func() bool {
		return client.uploadCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSweep_TriggerCoalesces(t *testing.T) {
	t.Parallel()

	s, _ := newTestS3(t, testS3Config())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Sweeper().Trigger()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Trigger blocked")
	}
}
