/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tieubaoca/docrag/types"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Ingest a PDF, DOCX, TXT or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		res, err := uploadFile(cmd, a, args[0])
		if err != nil {
			return err
		}
		printUpload("Uploaded", res)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <document-id> <file>",
	Short: "Replace the content of an existing document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		res, err := a.documents.Update(cmd.Context(), args[0], f, filepath.Base(args[1]))
		if err != nil {
			return err
		}
		printUpload("Updated", res)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if err := a.documents.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		color.Green("Deleted document %s", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		docs, err := a.documents.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			color.Yellow("No documents")
			return nil
		}
		id := color.New(color.FgCyan, color.Bold).SprintFunc()
		for _, doc := range docs {
			fmt.Printf("%s  %-4s  %3d chunks  %s\n", id(doc.DocumentID), doc.FileType, doc.Metadata.ChunkCount, doc.Metadata.Filename)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Print the metadata of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		info, err := a.documents.GetDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd, updateCmd, deleteCmd, listCmd, getCmd)
}

func uploadFile(cmd *cobra.Command, a *app, path string) (*types.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return a.documents.Upload(cmd.Context(), f, filepath.Base(path))
}

func printUpload(verb string, res *types.UploadResult) {
	color.Green("%s %s as %s", verb, res.Metadata.Filename, res.DocumentID)
	fmt.Printf("  chunks: %d\n", res.Metadata.ChunkCount)
	if res.Metadata.Truncated {
		color.Yellow("  truncated to the chunk limit")
	}
	if res.Metadata.DegradedChunks > 0 {
		color.Yellow("  %d chunks stored without a real embedding", res.Metadata.DegradedChunks)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "Show the ingestion history of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		records, err := a.documents.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "l", 20, "Maximum number of entries")
}
