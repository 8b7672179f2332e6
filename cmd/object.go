// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/zapstore/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapstore/pkg/types"
	"github.com/LeeDigitalWorks/zapstore/pkg/utils"

	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Store a file under a key",
		Long: `Store the content of a local file under key, replacing any existing object.
Without --content_type the file is sent as application/octet-stream.`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}
	c.Flags().String("content_type", "", "Content type to store with the object")
	return c
}

func runPut(cmd *cobra.Command, args []string) error {
	key, path := args[0], args[1]
	contentType, _ := cmd.Flags().GetString("content_type")

	storage, err := openStorage(cmd, 0)
	if err != nil {
		return err
	}
	defer storage.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	start := time.Now()
	if contentType == "" {
		err = storage.PutFile(cmd.Context(), key, f)
	} else {
		var content []byte
		if content, err = os.ReadFile(path); err == nil {
			err = storage.Put(cmd.Context(), key, content, contentType)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s) in %s\n", key, utils.FormatSize(info.Size()), time.Since(start).Round(time.Millisecond))
	return nil
}

func newGetCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch an object",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	c.Flags().StringP("out", "o", "", "Write the object to this file instead of stdout")
	return c
}

func runGet(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")

	storage, err := openStorage(cmd, 0)
	if err != nil {
		return err
	}
	defer storage.Close()

	data, err := storage.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Print an object's last modification time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openStorage(cmd, 0)
			if err != nil {
				return err
			}
			defer storage.Close()

			modTime, err := storage.LastModified(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], modTime.UTC().Format(time.RFC3339Nano))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete an object; deleting a missing key succeeds",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openStorage(cmd, 0)
			if err != nil {
				return err
			}
			defer storage.Close()

			return storage.Delete(cmd.Context(), args[0])
		},
	}
}

func newCopyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "copy <src-key> <dst-key>",
		Aliases: []string{"cp"},
		Short:   "Copy an object to a new key",
		Long: `Copy an object to a new key inside the same backend. With --to_backend the
object is read from the current backend and written to the [backends.<id>] backend.`,
		Args: cobra.ExactArgs(2),
		RunE: runCopy,
	}
	c.Flags().String("to_backend", "", "Destination backend section id")
	return c
}

func runCopy(cmd *cobra.Command, args []string) error {
	srcKey, dstKey := args[0], args[1]
	target, _ := cmd.Flags().GetString("to_backend")
	if target != "" {
		return copyAcross(cmd, srcKey, dstKey, target)
	}

	storage, err := openStorage(cmd, 0)
	if err != nil {
		return err
	}
	defer storage.Close()

	copier, ok := storage.(types.Copier)
	if !ok {
		return fmt.Errorf("backend %s cannot copy objects", storage.Type())
	}
	return copier.Copy(cmd.Context(), srcKey, dstKey)
}

// copyAcross reads srcKey from the current backend and stores it as dstKey in
// the target section's backend.
func copyAcross(cmd *cobra.Command, srcKey, dstKey, target string) error {
	source, _ := cmd.Flags().GetString("backend_id")
	if source == target {
		return &backend.Error{
			Code:    backend.ErrCodeInvalidArgument,
			Op:      "copy",
			Message: "--to_backend must differ from --backend_id",
		}
	}

	m, err := openManager(cmd, source, target)
	if err != nil {
		return err
	}
	defer m.Close()

	src, _ := m.Get(source)
	dst, _ := m.Get(target)

	content, err := src.Get(cmd.Context(), srcKey)
	if err != nil {
		return err
	}
	if err := dst.Put(cmd.Context(), dstKey, content, "application/octet-stream"); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "copied %s (%s) to %s/%s\n",
		srcKey, utils.FormatSize(int64(len(content))), target, dstKey)
	return nil
}
