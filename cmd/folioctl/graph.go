package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the knowledge graph built from an export",
	}

	var exportPath string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node, edge and entity counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			collection, _ := cmd.Flags().GetString("collection")
			l, err := newLocal(cmd.Context(), exportPath, collection, false)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Stats     any            `json:"stats"`
				Documents int            `json:"documents"`
				Counts    map[string]int `json:"counts"`
			}{l.agent.Stats(), l.result.Documents, l.result.Counts})
		},
	}
	statsCmd.Flags().StringVar(&exportPath, "export", "", "Path to the portfolio export JSON")

	graphCmd.AddCommand(statsCmd)
	return graphCmd
}
