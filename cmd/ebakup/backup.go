package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eirikba/ebakup/pkg/config"
	"github.com/eirikba/ebakup/pkg/logging"
	"github.com/eirikba/ebakup/pkg/manifest"
	"github.com/eirikba/ebakup/pkg/storage"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup <storage-root> <source-dir>",
	Short: "Take a new snapshot of source-dir into storage-root",
	Args:  cobra.ExactArgs(2),
	RunE:  runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	root, source := args[0], args[1]
	log := logging.WithComponent("backup")

	st, err := openOrCreateStorage(root)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	start := time.Now()
	b, err := st.StartSnapshot(start)
	if err != nil {
		return err
	}

	var walker Walker = defaultWalker{}
	count := 0
	err = walker.Walk(source, func(relPath string, info os.FileInfo) error {
		f, err := os.Open(filepath.Join(source, relPath))
		if err != nil {
			return err
		}
		defer f.Close()

		c, err := st.AddContent(ctx, f)
		if err != nil {
			return err
		}
		b.AddFilePath(relPath, uint64(info.Size()), info.ModTime(), c, manifest.TypeRegular, nil)
		count++
		log.Debug().Str("path", relPath).Msg("added file")
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", source, err)
	}

	if err := b.Finalize(time.Now()); err != nil {
		return err
	}
	log.Info().Int("files", count).Msg("backup complete")
	fmt.Printf("backed up %d files\n", count)
	return nil
}

func openOrCreateStorage(root string) (*storage.Storage, error) {
	st, err := storage.Open(root)
	if err == nil {
		return st, nil
	}
	return storage.Create(root, config.Default())
}
