package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/groblegark/pulse/datastore"
	"github.com/groblegark/pulse/internal/ui"
	"github.com/groblegark/pulse/rules"
	"github.com/groblegark/pulse/rulesdl"
)

var (
	fetchStorageDir string
	fetchS3Region   string
	fetchS3Endpoint string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and fetch rule documents",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a rules document and report what it contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		parsed, err := rules.ParseDocument(raw)
		if err != nil {
			return err
		}
		var consequences int
		for _, r := range parsed {
			consequences += len(r.Consequences)
		}
		fmt.Printf("%s %d rules, %d consequences\n", ui.RenderAccent("ok:"), len(parsed), consequences)
		return nil
	},
}

var rulesFetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a rules archive (http(s):// or s3://) and print the rules document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		store := datastore.New(fetchStorageDir)
		d := rulesdl.New(store, logger, rulesdl.WithS3(fetchS3Region, fetchS3Endpoint))

		body, err := d.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := rules.ParseDocument(body); err != nil {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("warning: fetched document does not parse: "+err.Error()))
		}
		os.Stdout.Write(body)
		fmt.Println()
		return nil
	},
}

func init() {
	rulesFetchCmd.Flags().StringVar(&fetchStorageDir, "storage", ".pulse", "cache directory")
	rulesFetchCmd.Flags().StringVar(&fetchS3Region, "s3-region", "us-east-1", "region for s3:// URLs")
	rulesFetchCmd.Flags().StringVar(&fetchS3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO)")
	rulesCmd.AddCommand(rulesValidateCmd, rulesFetchCmd)
	rootCmd.AddCommand(rulesCmd)
}
