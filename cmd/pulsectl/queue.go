package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/pulse/internal/ui"
	"github.com/groblegark/pulse/queue/sqlite"
)

var queuePeekCount int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect a persisted hit queue database",
}

var queueCountCmd = &cobra.Command{
	Use:   "count <db>",
	Short: "Print the number of queued hits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := sqlite.New(args[0])
		if err != nil {
			return err
		}
		defer q.Close()
		n, err := q.Count()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var queuePeekCmd = &cobra.Command{
	Use:   "peek <db>",
	Short: "Print the oldest queued hits without removing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := sqlite.New(args[0])
		if err != nil {
			return err
		}
		defer q.Close()
		entries, err := q.PeekN(queuePeekCount)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println(ui.RenderMuted("queue is empty"))
			return nil
		}
		for _, e := range entries {
			ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
			fmt.Printf("%s  %s  %d bytes\n", ui.RenderAccent(e.UniqueID), ui.RenderMuted(ts), len(e.Payload))
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear <db>",
	Short: "Remove every queued hit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := sqlite.New(args[0])
		if err != nil {
			return err
		}
		defer q.Close()
		if err := q.Clear(); err != nil {
			return err
		}
		fmt.Println("cleared")
		return nil
	},
}

func init() {
	queuePeekCmd.Flags().IntVar(&queuePeekCount, "n", 10, "number of hits to show")
	queueCmd.AddCommand(queueCountCmd, queuePeekCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
