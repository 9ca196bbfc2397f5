/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reinitCmd = &cobra.Command{
	Use:   "reinit",
	Short: "Drop and recreate the vector store schema",
	Long:  `Deletes every stored chunk by dropping the configured class or collection and creating it again.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			color.Yellow("This deletes every stored document. Re-run with --yes to confirm.")
			return nil
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if err := a.store.ResetSchema(cmd.Context()); err != nil {
			return err
		}
		color.Green("Vector store %s reinitialized", cfg.VectorStore.Type)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reinitCmd)
	reinitCmd.Flags().Bool("yes", false, "Confirm deletion of all documents")
}
