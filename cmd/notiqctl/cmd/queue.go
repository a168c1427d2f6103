package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbellotti/notiq/internal/envelope"
)

var envelopeFile string

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work with the broker queues",
}

// queuePullCmd pulls the next batch from the messages queue
var queuePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the next batch of envelopes from the messages queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeRequest("GET", brokerAddr, "/queues/messages", nil)
		if err != nil {
			return fmt.Errorf("queue pull failed: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNoContent:
			fmt.Println("queue is empty")
			return nil
		case http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read queue response: %w", err)
			}
			var pretty json.RawMessage = body
			printOutput(pretty)
			return nil
		default:
			return fmt.Errorf("messages queue returned %d", resp.StatusCode)
		}
	},
}

// queueRetryCmd resubmits an envelope from a file to the retry queue
var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit an envelope to the retry queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(envelopeFile)
		if err != nil {
			return fmt.Errorf("read envelope file: %w", err)
		}
		var env envelope.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("parse envelope file: %w", err)
		}

		resp, err := makeRequest("POST", brokerAddr, "/queues/retry", env)
		if err != nil {
			return fmt.Errorf("retry publish failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("retry queue returned %d", resp.StatusCode)
		}
		fmt.Printf("envelope %s accepted by the retry queue\n", env.UUID)
		return nil
	},
}

func init() {
	queueRetryCmd.Flags().StringVar(&envelopeFile, "file", "", "path to an envelope JSON file")
	_ = queueRetryCmd.MarkFlagRequired("file")

	queueCmd.AddCommand(queuePullCmd)
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
