// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const (
	// sweepTimeout bounds one background sweep pass.
	sweepTimeout = 5 * time.Minute
	// drainTimeout bounds the passes still running or pending when the sweeper stops.
	drainTimeout = 30 * time.Second
)

// SweepStats summarizes a sweep pass.
type SweepStats struct {
	Scanned int `json:"scanned"`
	Aborted int `json:"aborted"`
	Failed  int `json:"failed"`
}

// Sweeper aborts multipart uploads in one bucket that were initiated longer
// than the retention window ago. Passes run on demand (Sweep), when
// triggered (after each put) and optionally on an interval.
type Sweeper struct {
	client    ObjectClient
	bucket    string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	trigger chan struct{}
	stopCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func newSweeper(client ObjectClient, bucket string, retention, interval time.Duration, now func() time.Time, log zerolog.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		client:    client,
		bucket:    bucket,
		retention: retention,
		interval:  interval,
		now:       now,
		log:       log.With().Str("task", "multipart-sweep").Logger(),
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Retention returns the age after which uploads are aborted.
func (sw *Sweeper) Retention() time.Duration {
	return sw.retention
}

func (sw *Sweeper) start() {
	sw.wg.Add(1)
	go sw.loop()
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	var tick <-chan time.Time
	if sw.interval > 0 {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-sw.trigger:
			sw.runBackground()
		case <-tick:
			sw.runBackground()
		case <-sw.stopCh:
			select {
			case <-sw.trigger:
				sw.runBackground()
			default:
			}
			return
		}
	}
}

// Trigger requests a background pass. Requests made while one is pending coalesce.
func (sw *Sweeper) Trigger() {
	select {
	case sw.trigger <- struct{}{}:
	default:
	}
}

func (sw *Sweeper) runBackground() {
	ctx, cancel := context.WithTimeout(sw.ctx, sweepTimeout)
	defer cancel()
	stats, err := sw.Sweep(ctx)
	if err != nil {
		sw.log.Warn().Err(err).Msg("multipart sweep failed")
		return
	}
	if stats.Aborted > 0 || stats.Failed > 0 {
		sw.log.Info().
			Int("scanned", stats.Scanned).
			Int("aborted", stats.Aborted).
			Int("failed", stats.Failed).
			Msg("multipart sweep finished")
	}
}

// Sweep lists every in-progress multipart upload in the bucket and aborts
// those initiated before now minus the retention window. Abort failures are
// counted and the pass continues; a listing failure ends the pass.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	sweepRunsTotal.Inc()
	var stats SweepStats
	cutoff := sw.now().Add(-sw.retention)

	var keyMarker, uploadIDMarker *string
	for {
		out, err := sw.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(sw.bucket),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return stats, fmt.Errorf("list multipart uploads: %w", err)
		}

		for _, up := range out.Uploads {
			stats.Scanned++
			if up.Initiated == nil || !up.Initiated.Before(cutoff) {
				continue
			}
			_, err := sw.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(sw.bucket),
				Key:      up.Key,
				UploadId: up.UploadId,
			})
			if err != nil {
				stats.Failed++
				sw.log.Error().Err(err).
					Str("key", aws.ToString(up.Key)).
					Str("upload_id", aws.ToString(up.UploadId)).
					Msg("abort abandoned upload")
				continue
			}
			stats.Aborted++
			sweepAbortedTotal.Inc()
		}

		if !aws.ToBool(out.IsTruncated) {
			return stats, nil
		}
		keyMarker, uploadIDMarker = out.NextKeyMarker, out.NextUploadIdMarker
	}
}

// stop runs a pass that is still pending, then waits for the loop to exit.
// Passes still running after drainTimeout are cancelled.
func (sw *Sweeper) stop() {
	sw.once.Do(func() {
		close(sw.stopCh)
		timer := time.AfterFunc(drainTimeout, sw.cancel)
		sw.wg.Wait()
		timer.Stop()
		sw.cancel()
	})
	sw.wg.Wait()
}
