// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/debug"
	"github.com/LeeDigitalWorks/zapstore/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapstore",
		Subsystem: "backend",
		Name:      "operations_total",
		Help:      "Total backend operations by backend type, operation and result code",
	}, []string{"backend", "op", "result"})

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapstore",
		Subsystem: "backend",
		Name:      "operation_duration_seconds",
		Help:      "Latency of backend operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"backend", "op"})

	bytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapstore",
		Subsystem: "backend",
		Name:      "bytes_transferred_total",
		Help:      "Bytes written to or read from a backend",
	}, []string{"backend", "direction"})

	uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapstore",
		Subsystem: "s3",
		Name:      "uploads_total",
		Help:      "S3 uploads by transfer mode (single or multipart)",
	}, []string{"mode"})

	sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapstore",
		Subsystem: "s3",
		Name:      "sweep_runs_total",
		Help:      "Total abandoned multipart upload sweeps",
	})

	sweepAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapstore",
		Subsystem: "s3",
		Name:      "sweep_aborted_total",
		Help:      "Multipart uploads aborted by the sweeper",
	})
)

func init() {
	debug.Registry().MustRegister(
		operationsTotal,
		operationDuration,
		bytesTransferred,
		uploadsTotal,
		sweepRunsTotal,
		sweepAbortedTotal,
	)
}

// observe records the outcome and latency of one operation.
func observe(backendType types.StorageType, op string, start time.Time, err error) {
	operationsTotal.WithLabelValues(string(backendType), op, CodeOf(err).String()).Inc()
	operationDuration.WithLabelValues(string(backendType), op).Observe(time.Since(start).Seconds())
}
