package main

import (
	"fmt"
	"os"

	"github.com/lodestone-ai/lodestone/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lodestoned",
		Short: "Lodestone daemon and CLI",
		Long:  "Lodestone daemon for running the document ingestion and retrieval API, standalone workers, and embedding-version migrations",
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.WorkerCmd())
	rootCmd.AddCommand(cli.ReindexCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
