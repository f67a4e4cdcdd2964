// -- cmd/check.go --
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voidwalker9k/pagepilot/internal/observability"
	"github.com/voidwalker9k/pagepilot/internal/vision"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the vision endpoint is reachable with the configured credentials.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		client, err := vision.NewClient(appConfig.Vision, appConfig.Agent.HistoryWindow, logger)
		if err != nil {
			return fmt.Errorf("failed to build decision client: %w", err)
		}

		if err := client.TestConnection(cmd.Context()); err != nil {
			return fmt.Errorf("connection check failed: %w", err)
		}
		fmt.Fprintf(os.Stdout, "ok: %s reachable with model %s\n",
			appConfig.Vision.Endpoint, appConfig.Vision.Model)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
