package main

import (
	"fmt"

	"github.com/eirikba/ebakup/pkg/storage"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <storage-root>",
	Short: "Print a storage's configuration and snapshot list",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	root := args[0]

	st, err := storage.Open(root)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := st.Config()
	fmt.Printf("root: %s\n", root)
	fmt.Printf("block size: %d\n", cfg.BlockSize)
	fmt.Printf("checksum: %s\n", cfg.ChecksumAlgo)

	snaps, err := st.Snapshots()
	if err != nil {
		return err
	}
	fmt.Printf("snapshots: %d\n", len(snaps))
	for _, s := range snaps {
		fmt.Printf("  %s (started %s)\n", s.Name, s.Start.Format("2006-01-02 15:04"))
	}
	return nil
}
