/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/types"
)

// batchUploadDocumentCmd represents the batchUploadDocument command
var batchUploadDocumentCmd = &cobra.Command{
	Use:   "batch-upload",
	Short: "Ingest every supported file in a directory",
	Long: `Walks a directory and uploads every PDF, DOCX, TXT and JSON file in it.
Files with other extensions are skipped. A failed file does not stop the batch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		directory, _ := cmd.Flags().GetString("directory")
		recursive, _ := cmd.Flags().GetBool("recursive")
		reinit, _ := cmd.Flags().GetBool("reinit")

		files, err := collectFiles(directory, recursive)
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if reinit {
			if err := a.store.ResetSchema(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reinitialize vector store: %w", err)
			}
		}

		failed := 0
		for _, filePath := range files {
			res, err := uploadFile(cmd, a, filePath)
			if err != nil {
				zap.S().Errorf("Failed to upload document %s: %v", filePath, err)
				failed++
				continue
			}
			printUpload("Uploaded", res)
		}

		color.New(color.Bold).Printf("%d uploaded, %d failed\n", len(files)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(files))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchUploadDocumentCmd)

	batchUploadDocumentCmd.Flags().String("directory", "", "Path to the dir to upload")
	batchUploadDocumentCmd.Flags().BoolP("recursive", "R", false, "Descend into subdirectories")
	batchUploadDocumentCmd.Flags().BoolP("reinit", "r", false, "Reinitialize the vector store first")
	_ = batchUploadDocumentCmd.MarkFlagRequired("directory")
}

// collectFiles lists the supported files under directory in lexical order.
func collectFiles(directory string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(directory, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != directory && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := types.FileTypeFromName(d.Name()); err != nil {
			zap.S().Debugf("Skipping %s: %v", path, err)
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
