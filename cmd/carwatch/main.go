package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "carwatch",
		Short: "Track vehicle listings and score how good each deal is",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(importCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(topCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func importCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import listings from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file with a list of listings")
	cmd.MarkFlagRequired("file")
	return cmd
}

func scoreCmd() *cobra.Command {
	var (
		version  string
		minGroup int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute deal scores for all listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(version, minGroup)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "score version tag (default: from config)")
	cmd.Flags().IntVar(&minGroup, "min-n", 0, "min cohort size before falling back to broader cohorts (default: from config)")
	return cmd
}

func topCmd() *cobra.Command {
	var (
		jsonOutput bool
		brand      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the best current deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(jsonOutput, brand, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&brand, "brand", "", "filter by brand")
	cmd.Flags().IntVar(&limit, "limit", 20, "max listings to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with periodic scoring and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
