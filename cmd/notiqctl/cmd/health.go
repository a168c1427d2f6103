package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of a running consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeRequest("GET", opsAddr, "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusOK {
			fmt.Printf("✓ Consumer is healthy: %s\n", body)
		} else {
			fmt.Printf("✗ Consumer is unhealthy (HTTP %d): %s\n", resp.StatusCode, body)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
