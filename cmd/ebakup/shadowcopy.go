package main

import (
	"fmt"

	"github.com/eirikba/ebakup/pkg/logging"
	"github.com/eirikba/ebakup/pkg/storage"
	"github.com/spf13/cobra"
)

var shadowcopyCmd = &cobra.Command{
	Use:   "shadowcopy <storage-root> <snapshot-name> <target-dir>",
	Short: "Materialize a hard-link tree of a snapshot under target-dir",
	Args:  cobra.ExactArgs(3),
	RunE:  runShadowcopy,
}

func runShadowcopy(cmd *cobra.Command, args []string) error {
	root, snapshot, target := args[0], args[1], args[2]
	log := logging.WithComponent("shadowcopy")

	st, err := storage.Open(root)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ShadowCopy(snapshot, target); err != nil {
		return err
	}
	log.Info().Str("snapshot", snapshot).Str("target", target).Msg("shadow copy complete")
	fmt.Printf("shadow copy of %s materialized at %s\n", snapshot, target)
	return nil
}
