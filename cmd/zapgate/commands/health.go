package commands

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `zapgate health` command. Used by the Docker
// HEALTHCHECK and monitoring: polls the local control API status endpoint.
func newHealthCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the running gateway's status",
		Long:  `Polls GET /status on the local control API and prints the response.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + address + "/status")
			if err != nil {
				return fmt.Errorf("gateway unreachable: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fmt.Println(string(body))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status returned %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:8077", "control API address")
	return cmd
}
