// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/debug"
	"github.com/LeeDigitalWorks/zapstore/pkg/logger"
	"github.com/LeeDigitalWorks/zapstore/pkg/storage/backend"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSweepCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "sweep",
		Short: "Abort abandoned S3 multipart uploads",
		Long: `Abort every multipart upload in the bucket initiated more than --sweep_retention ago.
With --interval the sweep repeats until interrupted and metrics are served on --debug_port.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	f := c.Flags()
	f.Duration("interval", 0, "Repeat the sweep on this interval until interrupted (0 runs once)")
	f.String("debug_addr", "127.0.0.1", "Interface for the debug/metrics server")
	f.Int("debug_port", 8010, "Debug/metrics HTTP port while sweeping on an interval (0 disables)")
	viper.BindPFlags(f)
	return c
}

func runSweep(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	interval := f.Duration("interval")
	if interval < 0 {
		return fmt.Errorf("--interval cannot be negative")
	}

	storage, err := openStorage(cmd, interval)
	if err != nil {
		return err
	}
	defer storage.Close()

	s3, ok := storage.(*backend.S3)
	if !ok {
		return fmt.Errorf("sweep requires the s3 backend, got %s", storage.Type())
	}

	stats, err := s3.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d aborted=%d failed=%d\n", stats.Scanned, stats.Aborted, stats.Failed)
	if interval == 0 {
		return nil
	}

	// The backend's sweeper now repeats the pass every interval.
	var debugServer *http.Server
	if port := f.Int("debug_port"); port > 0 {
		debugServer = startHTTPServer(debug.GetMux(), f.String("debug_addr"), port)
	}
	debug.SetReady()
	logger.Info().
		Str("bucket", s3.Bucket()).
		Dur("interval", interval).
		Dur("retention", s3.Sweeper().Retention()).
		Msg("sweeping until interrupted")

	<-cmd.Context().Done()

	debug.SetNotReady()
	if debugServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		debugServer.Shutdown(ctx)
	}
	return nil
}

func startHTTPServer(handler http.Handler, ip string, port int) *http.Server {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug HTTP server failed")
		}
	}()
	return httpServer
}
