package main

import (
	"fmt"
	"os"

	"github.com/eirikba/ebakup/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ebakup",
	Short: "ebakup - append-only, self-verifying backup storage",
	Long: `ebakup manages content-addressed backup storages: taking
snapshots of a directory tree, mirroring one storage's history into
another, verifying that stored content still matches what was recorded,
and materializing a hard-link shadow copy of a past snapshot.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(shadowcopyCmd)
	rootCmd.AddCommand(infoCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{Level: logging.Level(level), JSONOutput: jsonOut})
}
