package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Writes every stored listing to the dated export file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			artifact, err := instance.Export(cmd.Context())
			if artifact.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", artifact.Rows, artifact.Path)
			}
			if artifact.URI != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "mirrored to %s\n", artifact.URI)
			}
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return nil
		},
	}
}
