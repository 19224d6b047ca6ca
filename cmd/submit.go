package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/convoflow-go/internal/job"
)

var (
	submitURL       string
	submitToken     string
	submitContact   string
	submitConvo     string
	submitThread    string
	submitAgent     string
	submitWatermark string
	submitTag       string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Post a trigger to a running instance (ops convenience)",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "http://localhost:18921", "Instance base URL")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "Bearer token (if auth is enabled)")
	submitCmd.Flags().StringVar(&submitContact, "contact", "", "Contact id")
	submitCmd.Flags().StringVar(&submitConvo, "conversation", "", "Conversation id")
	submitCmd.Flags().StringVar(&submitThread, "thread", "", "Reasoning thread id")
	submitCmd.Flags().StringVar(&submitAgent, "agent", "", "Reasoning agent id")
	submitCmd.Flags().StringVar(&submitWatermark, "watermark", "", "Last automated message id")
	submitCmd.Flags().StringVar(&submitTag, "tag", "", "Automation filter tag")
	submitCmd.MarkFlagRequired("contact")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	trigger := job.TriggerJob{
		ContactID:              submitContact,
		ConversationID:         submitConvo,
		ThreadID:               submitThread,
		AgentID:                submitAgent,
		LastAutomatedMessageID: submitWatermark,
		FilterTag:              submitTag,
	}

	body, err := json.Marshal(trigger)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, submitURL+"/hooks/trigger", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if submitToken != "" {
		req.Header.Set("Authorization", "Bearer "+submitToken)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d\n%s\n", resp.StatusCode, string(respBody))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("trigger rejected")
	}
	return nil
}
