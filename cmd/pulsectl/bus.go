package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/groblegark/pulse/bridge"
	"github.com/groblegark/pulse/internal/ui"
)

var (
	busURL     string
	busSubject string
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Interact with the NATS event bridge",
}

var busTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print bridge traffic until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := bridge.Dial(busURL, slog.New(slog.NewTextHandler(os.Stderr, nil)))
		if err != nil {
			return err
		}
		defer bus.Close()

		stop, err := bus.Subscribe(busSubject, func(subject string, payload []byte) {
			fmt.Printf("%s %s\n", ui.RenderAccent(subject), payload)
		})
		if err != nil {
			return err
		}
		defer stop()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		fmt.Fprintln(os.Stderr, ui.RenderMuted("tailing "+busSubject+" (ctrl-c to stop)"))
		<-interrupt
		return nil
	},
}

func init() {
	busTailCmd.Flags().StringVar(&busURL, "url", "nats://127.0.0.1:4222", "NATS server URL")
	busTailCmd.Flags().StringVar(&busSubject, "subject", "pulse.>", "subject filter")
	busCmd.AddCommand(busTailCmd)
	rootCmd.AddCommand(busCmd)
}
