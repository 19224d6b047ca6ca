// Package tracker records opportunities in the external tracking store
// (an Airtable-compatible REST API). Tier actions write one record per
// qualified conversation.
package tracker

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

// Client is the opportunity-store capability surface.
type Client interface {
	CreateRecord(ctx context.Context, fields map[string]any) (string, error)
	UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error
}

// HTTPClient talks to an Airtable-compatible API.
type HTTPClient struct {
	APIBase string
	APIKey  string
	BaseID  string
	TableID string

	HTTP *http.Client
}

// NewHTTPClient creates a tracker client for one base/table.
func NewHTTPClient(apiKey, baseID, tableID string) *HTTPClient {
	return &HTTPClient{
		APIBase: "https://api.airtable.com/v0",
		APIKey:  apiKey,
		BaseID:  baseID,
		TableID: tableID,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.APIBase, "/")+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

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
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return out, nil
}

// CreateRecord inserts a record and returns its id.
func (c *HTTPClient) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	out, err := c.do(ctx, http.MethodPost, "/"+c.BaseID+"/"+c.TableID, fields)
	if err != nil {
		return "", err
	}
	id, _ := out["id"].(string)
	if id == "" {
		return "", fmt.Errorf("create_record response carried no id")
	}
	return id, nil
}

// UpdateRecord patches an existing record.
func (c *HTTPClient) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, "/"+c.BaseID+"/"+c.TableID+"/"+recordID, fields)
	return err
}
