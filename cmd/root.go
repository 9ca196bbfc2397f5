/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	flushLogger = func() {}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Document ingestion and semantic retrieval service",
	Long: `docrag extracts text from PDF, DOCX, TXT and JSON files, splits it into
overlapping chunks, embeds the chunks and stores them in a vector database
for similarity search, cross-document search and JSON aggregation.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		flushLogger()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/config.yaml", "config file")
}

// loadSettings reads the config file and environment and installs the logger.
// A missing default config file falls back to built-in defaults.
func loadSettings(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}

	loaded, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	flush, err := logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	flushLogger = flush
	return nil
}
