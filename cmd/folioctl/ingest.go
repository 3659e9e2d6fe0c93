package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/util"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		exportPath string
		serverURL  string
		apiKey     string
		async      bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Send an export to a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, data, err := readExport(exportPath)
			if err != nil {
				return err
			}
			if apiKey == "" {
				return fmt.Errorf("--key or MASTER_API_KEY is required")
			}
			collection, _ := cmd.Flags().GetString("collection")

			path := "/api/ingest"
			if async {
				path = "/api/ingest/async"
			}
			target := strings.TrimRight(serverURL, "/") + path + "?collection=" + url.QueryEscape(collection)

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(data))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+apiKey)

			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("ingest request failed: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "Path to the portfolio export JSON")
	cmd.Flags().StringVar(&serverURL, "server", util.GetEnvString("FOLIO_URL", "http://localhost:8080"), "Server base URL")
	cmd.Flags().StringVar(&apiKey, "key", util.GetEnv("MASTER_API_KEY"), "Admin API key")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the export for the worker")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Request timeout")
	return cmd
}
