/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tieubaoca/docrag/service"
	"github.com/tieubaoca/docrag/types"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the chunks of one document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID, _ := cmd.Flags().GetString("document")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		res, err := a.documents.Query(cmd.Context(), types.QueryRequest{
			Query:      strings.Join(args, " "),
			DocumentID: documentID,
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		printMatches(res.Matches)
		return nil
	},
}

var crossQueryCmd = &cobra.Command{
	Use:   "cross-query <text>",
	Short: "Search across every stored document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		fileType, _ := cmd.Flags().GetString("file-type")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		res, err := a.documents.CrossQuery(cmd.Context(), types.CrossQueryRequest{
			Query:    strings.Join(args, " "),
			Limit:    limit,
			FileType: fileType,
		})
		if err != nil {
			return err
		}
		if len(res.Results) == 0 {
			color.Yellow("No matches")
			return nil
		}
		for _, group := range res.Results {
			color.New(color.FgCyan, color.Bold).Printf("Document %s\n", group.DocumentID)
			printMatches(group.Matches)
		}
		return nil
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute min, max, sum, avg or count over a JSON document field",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID, _ := cmd.Flags().GetString("document")
		field, _ := cmd.Flags().GetString("field")
		operation, _ := cmd.Flags().GetString("op")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		res, err := a.documents.Aggregate(cmd.Context(), types.AggregationRequest{
			DocumentID: documentID,
			Field:      field,
			Operation:  operation,
		})
		if err != nil {
			return err
		}
		color.Green("%s(%s) = %g", res.Operation, res.Field, res.Result)
		fmt.Printf("  source: %s\n", res.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd, crossQueryCmd, aggregateCmd)

	queryCmd.Flags().StringP("document", "d", "", "ID of the document to search")
	queryCmd.Flags().IntP("limit", "l", types.DefaultQueryLimit, "Maximum number of matches")
	_ = queryCmd.MarkFlagRequired("document")

	crossQueryCmd.Flags().IntP("limit", "l", types.DefaultQueryLimit, "Maximum number of matches")
	crossQueryCmd.Flags().StringP("file-type", "t", "", "Only search documents of this file type")

	aggregateCmd.Flags().StringP("document", "d", "", "ID of the JSON document")
	aggregateCmd.Flags().StringP("field", "f", "", "Field to aggregate")
	aggregateCmd.Flags().StringP("op", "o", "sum", "Operation: "+strings.Join(service.AggregationOperations, ", "))
	_ = aggregateCmd.MarkFlagRequired("document")
	_ = aggregateCmd.MarkFlagRequired("field")
}

func printMatches(matches []types.ChunkMatch) {
	if len(matches) == 0 {
		color.Yellow("No matches")
		return
	}
	score := color.New(color.FgGreen).SprintfFunc()
	for _, m := range matches {
		fmt.Printf("[%s] chunk %d", score("%.3f", m.Certainty), m.ChunkIndex)
		if m.EmbeddingDegraded {
			color.New(color.FgYellow).Print(" (degraded)")
		}
		fmt.Println()
		fmt.Printf("  %s\n\n", strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", "\n  "))
	}
}
