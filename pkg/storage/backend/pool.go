// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// transferWorkerPrefix names pool workers: zapstore-s3-transfer-worker-1, -2, ...
const transferWorkerPrefix = "zapstore-s3-transfer-worker-"

var errPoolClosed = errors.New("transfer pool closed")

// transferJob runs on a pool worker. log carries the worker's name.
type transferJob func(log zerolog.Logger)

// transferPool is a fixed set of workers shared by every transfer of one S3 backend.
type transferPool struct {
	jobs   chan transferJob
	names  []string
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newTransferPool(workers int, log zerolog.Logger) *transferPool {
	p := &transferPool{
		jobs:  make(chan transferJob, workers*4),
		names: make([]string, workers),
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("%s%d", transferWorkerPrefix, i+1)
		p.names[i] = name
		p.wg.Add(1)
		go p.work(log.With().Str("worker", name).Logger())
	}
	return p
}

func (p *transferPool) work(log zerolog.Logger) {
	defer p.wg.Done()
	for job := range p.jobs {
		job(log)
	}
}

// WorkerNames returns the worker names in start order.
func (p *transferPool) WorkerNames() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// submit queues job, blocking while the queue is full. It fails if ctx is
// done first or the pool is closed.
func (p *transferPool) submit(ctx context.Context, job transferJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs, lets queued jobs finish and waits for the workers.
func (p *transferPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// runParts runs fn for part indexes [0, n) on the pool and blocks until every
// submitted part returns. The first failure cancels the context handed to the
// remaining parts and is returned. If ctx ends first, ctx's error is returned.
func (p *transferPool) runParts(ctx context.Context, n int, fn func(ctx context.Context, log zerolog.Logger, part int) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < n; i++ {
		part := i
		wg.Add(1)
		err := p.submit(ctx, func(log zerolog.Logger) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			if err := fn(ctx, log, part); err != nil {
				fail(fmt.Errorf("part %d: %w", part+1, err))
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	return firstErr
}
