// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeeDigitalWorks/zapstore/pkg/logger"
	"github.com/LeeDigitalWorks/zapstore/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapstore/pkg/utils"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Process exit codes by failure class.
const (
	exitOK              = 0
	exitStorageFailure  = 1
	exitInvalidArgument = 2
	exitNotFound        = 3
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zapstore",
		Short: "zapstore - key-addressed object storage",
		Long: `zapstore stores objects by key on a local directory or an S3-compatible bucket.
Every backend offers the same put, get, stat and delete contract; the S3 backend
switches to multipart uploads above a size threshold and sweeps abandoned uploads.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	pf.String("log_level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
	addStorageFlags(pf)
	viper.BindPFlags(pf)

	root.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newStatCmd(),
		newDeleteCmd(),
		newCopyCmd(),
		newSweepCmd(),
		newVersionCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate("zapstore {{.Version}}\n")
	return root
}

// initializeConfig merges the optional zapstore config file and applies the log level.
func initializeConfig(cmd *cobra.Command, args []string) error {
	if _, err := utils.LoadConfiguration("zapstore", false); err != nil {
		return err
	}

	if lvl := NewFlagLoader(cmd).String("log_level"); lvl != "" {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("--log_level: %w", err)
		}
		logger.SetLevel(level)
	}
	return nil
}

// Execute runs the CLI and returns the process exit code.
// Failures other than bad input are reported to Sentry.
func Execute() int {
	return run(newRootCmd(), os.Args[1:])
}

func run(root *cobra.Command, args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	code := exitCode(err)
	if code == exitStorageFailure {
		sentry.CaptureException(err)
	}
	return code
}

func exitCode(err error) int {
	var be *backend.Error
	if !errors.As(err, &be) {
		return exitStorageFailure
	}
	switch be.Code {
	case backend.ErrCodeInvalidArgument:
		return exitInvalidArgument
	case backend.ErrCodeNotFound:
		return exitNotFound
	default:
		return exitStorageFailure
	}
}
