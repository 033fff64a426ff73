package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/tokens"
)

var (
	renderDataJSON string
	renderType     string
	renderSource   string
)

var renderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a {% token %} template against sample event data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if renderDataJSON != "" {
			if err := json.Unmarshal([]byte(renderDataJSON), &data); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}
		f := &tokens.Finder{
			EventType:   renderType,
			EventSource: renderSource,
			Timestamp:   time.Now(),
			SDKVersion:  "pulsectl",
			Data: func(path string) (any, bool) {
				return event.Get(data, path)
			},
		}
		fmt.Println(tokens.Render(args[0], f))
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderDataJSON, "data", "", "event data as JSON")
	renderCmd.Flags().StringVar(&renderType, "type", "lifecycle", "event type for ~type")
	renderCmd.Flags().StringVar(&renderSource, "source", "responseContent", "event source for ~source")
	rootCmd.AddCommand(renderCmd)
}
