package main

import (
	"context"
	"fmt"

	"github.com/eirikba/ebakup/pkg/logging"
	"github.com/eirikba/ebakup/pkg/mirror"
	"github.com/eirikba/ebakup/pkg/storage"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <src-storage-root> <dst-storage-root>",
	Short: "Mirror every snapshot src has that dst lacks",
	Args:  cobra.ExactArgs(2),
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	srcRoot, dstRoot := args[0], args[1]
	log := logging.WithComponent("sync")

	src, err := storage.Open(srcRoot)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := openOrCreateStorage(dstRoot)
	if err != nil {
		return err
	}
	defer dst.Close()

	report, err := mirror.Sync(context.Background(), src, dst)
	if err != nil {
		return err
	}
	log.Info().
		Int("snapshots", report.SnapshotsCopied).
		Int("objects", report.ObjectsCopied).
		Msg("sync complete")
	fmt.Printf("mirrored %d snapshot(s), %d object(s)\n", report.SnapshotsCopied, report.ObjectsCopied)
	return nil
}
