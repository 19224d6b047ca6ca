package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to an OpenAI-assistants-compatible API.
type HTTPClient struct {
	APIBase      string
	APIKey       string
	PollInterval time.Duration // cadence between run status checks
	RunTimeout   time.Duration // upper bound on total wait for a terminal state

	HTTP *http.Client
}

// NewHTTPClient creates a reasoning client.
func NewHTTPClient(apiBase, apiKey string, pollInterval, runTimeout time.Duration) *HTTPClient {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if runTimeout <= 0 {
		runTimeout = 2 * time.Minute
	}
	return &HTTPClient{
		APIBase:      strings.TrimRight(apiBase, "/"),
		APIKey:       apiKey,
		PollInterval: pollInterval,
		RunTimeout:   runTimeout,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	out := map[string]any{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	return out, nil
}

// RunToCompletion implements Client.
func (c *HTTPClient) RunToCompletion(ctx context.Context, threadID, agentID string, newMessages []string) (Outcome, error) {
	// Append the unconsumed inbound messages to the thread.
	for _, msg := range newMessages {
		_, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
			"role":    "user",
			"content": msg,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("appending message: %w", err)
		}
	}

	run, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", map[string]any{
		"assistant_id": agentID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("creating run: %w", err)
	}
	runID, _ := run["id"].(string)
	if runID == "" {
		return Outcome{}, fmt.Errorf("run creation returned no id")
	}

	return c.pollRun(ctx, threadID, runID)
}

// pollRun checks run status on a fixed cadence until a terminal state or
// the run timeout. "queued" and "in_progress" are non-terminal and never
// acted on.
func (c *HTTPClient) pollRun(ctx context.Context, threadID, runID string) (Outcome, error) {
	deadline := time.Now().Add(c.RunTimeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		run, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("polling run %s: %w", runID, err)
		}

		status, _ := run["status"].(string)
		switch status {
		case "completed":
			content, err := c.latestAssistantMessage(ctx, threadID)
			if err != nil {
				return Outcome{}, err
			}
			return Completed(content), nil
		case "requires_action":
			return c.parseFunctionCall(runID, run)
		case "queued", "in_progress", "cancelling":
			// still running, keep polling
		default:
			// failed, cancelled, expired, incomplete, unknown
			return Failed(status), nil
		}

		if time.Now().After(deadline) {
			return Outcome{}, fmt.Errorf("run %s did not reach a terminal state within %s", runID, c.RunTimeout)
		}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseFunctionCall extracts the first pending tool call from a
// requires_action run payload.
func (c *HTTPClient) parseFunctionCall(runID string, run map[string]any) (Outcome, error) {
	ra, _ := run["required_action"].(map[string]any)
	sto, _ := ra["submit_tool_outputs"].(map[string]any)
	calls, _ := sto["tool_calls"].([]any)
	if len(calls) == 0 {
		return Outcome{}, fmt.Errorf("run %s requires action but carries no tool calls", runID)
	}

	call, _ := calls[0].(map[string]any)
	callID, _ := call["id"].(string)
	fn, _ := call["function"].(map[string]any)
	name, _ := fn["name"].(string)
	if callID == "" || name == "" {
		return Outcome{}, fmt.Errorf("run %s tool call missing id or name", runID)
	}

	args := map[string]any{}
	if rawArgs, ok := fn["arguments"].(string); ok && rawArgs != "" {
		// Arguments arrive as a JSON string; a parse failure here is the
		// model's fault, not ours. Pass empty args and let the action
		// layer decide.
		_ = json.Unmarshal([]byte(rawArgs), &args)
	}
	return RequiresAction(runID, callID, name, args), nil
}

// latestAssistantMessage fetches the newest message on the thread.
func (c *HTTPClient) latestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	out, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages?limit=1", nil)
	if err != nil {
		return "", fmt.Errorf("fetching assistant message: %w", err)
	}

	data, _ := out["data"].([]any)
	if len(data) == 0 {
		return "", fmt.Errorf("thread %s has no messages after completed run", threadID)
	}
	msg, _ := data[0].(map[string]any)
	content, _ := msg["content"].([]any)
	for _, part := range content {
		p, _ := part.(map[string]any)
		text, _ := p["text"].(map[string]any)
		if value, ok := text["value"].(string); ok && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("thread %s latest message carries no text content", threadID)
}

// AcknowledgeFunctionCall implements Client. The output payload is a
// structured success marker keyed by the call id.
func (c *HTTPClient) AcknowledgeFunctionCall(ctx context.Context, threadID, runID, callID string) error {
	_, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", map[string]any{
		"tool_outputs": []map[string]any{
			{"tool_call_id": callID, "output": "success"},
		},
	})
	if err != nil {
		return fmt.Errorf("acknowledging call %s: %w", callID, err)
	}
	return nil
}
