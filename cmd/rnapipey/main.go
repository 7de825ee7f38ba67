// Package main provides the entry point for the rnapipey CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rnapipey",
	Short: "RNA 3D structure prediction pipeline",
	Long:  "rnapipey orchestrates RNA 3D structure prediction: sequence analysis, secondary structure, ensemble generation across multiple backends, RMSD clustering, and model scoring.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
