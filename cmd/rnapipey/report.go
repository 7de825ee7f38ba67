package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dimenwarper/rnapipey/internal/checkpoint"
	"github.com/dimenwarper/rnapipey/internal/pipeline"
)

var reportCommand = &cobra.Command{
	Use:   "report <run-dir>",
	Short: "Regenerate and print the report of an existing run",
	Args:  cobra.ExactArgs(1),
	RunE:  reportCmd,
}

func init() {
	rootCmd.AddCommand(reportCommand)
}

func reportCmd(_ *cobra.Command, args []string) error {
	runDir := args[0]

	store := checkpoint.NewStore(runDir)
	run, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (created %s)\n\n", run.RunID, run.CreatedAt)
	fmt.Printf("%-28s %-10s %s\n", "STAGE", "STATUS", "NOTES")
	for _, rec := range run.Stages {
		fmt.Printf("%-28s %-10s %s\n", rec.Stage, rec.Status, rec.Reason)
	}

	reportPath, err := pipeline.RegenerateReport(runDir)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report %s: %w", reportPath, err)
	}
	fmt.Printf("\n%s", content)
	return nil
}
