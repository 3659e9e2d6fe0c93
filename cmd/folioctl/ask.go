package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		exportPath string
		k          int
		useLLM     bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from a local export",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, _ := cmd.Flags().GetString("collection")
			l, err := newLocal(cmd.Context(), exportPath, collection, useLLM)
			if err != nil {
				return err
			}

			resp := l.agent.Answer(cmd.Context(), agent.Request{
				Question: strings.Join(args, " "),
				K:        k,
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprintln(out, resp.Answer)
			fmt.Fprintf(out, "\nconfidence: %.2f  found: %t  intents: %v\n", resp.Confidence, resp.Found, resp.Intents)
			for _, s := range resp.Sources {
				fmt.Fprintf(out, "  [%s] %s\n", s.ID, s.Label)
			}
			for _, w := range resp.Warnings {
				fmt.Fprintf(out, "  ! %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "Path to the portfolio export JSON")
	cmd.Flags().IntVar(&k, "k", 0, "Number of search results (1-50)")
	cmd.Flags().BoolVar(&useLLM, "llm", false, "Use the model configured by AI_* variables")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}
