package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mbellotti/notiq/internal/events"
)

var (
	eventType        string
	eventSource      string
	eventDescription string
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Work with lifecycle events",
}

// eventSendCmd publishes one event to the broker's events queue
var eventSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a lifecycle event to the events queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := events.NewEvent(eventSource, eventDescription, eventType, nil)

		resp, err := makeRequest("POST", brokerAddr, "/queues/events", ev)
		if err != nil {
			return fmt.Errorf("event publish failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("events queue returned %d", resp.StatusCode)
		}
		printOutput(ev)
		return nil
	},
}

func init() {
	eventSendCmd.Flags().StringVar(&eventType, "type", events.TypeInfo, "event type (OK, INFO, CLIENT_ERROR, ...)")
	eventSendCmd.Flags().StringVar(&eventSource, "source", "notiqctl", "event source")
	eventSendCmd.Flags().StringVar(&eventDescription, "description", "", "event description")
	_ = eventSendCmd.MarkFlagRequired("description")

	eventCmd.AddCommand(eventSendCmd)
	rootCmd.AddCommand(eventCmd)
}
