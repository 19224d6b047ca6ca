package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusURL   string
	statusToken string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running convoflow instance's status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:18921", "Instance base URL")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Bearer token (if auth is enabled)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/health", "/api/status"} {
		req, err := http.NewRequest(http.MethodGet, statusURL+path, nil)
		if err != nil {
			return err
		}
		if statusToken != "" {
			req.Header.Set("Authorization", "Bearer "+statusToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		fmt.Printf("%s → %d\n%s\n", path, resp.StatusCode, string(body))
	}
	return nil
}
