package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiVersion is the CRM API version header value the endpoints require.
const apiVersion = "2021-04-15"

// HTTPClient talks to a GoHighLevel-compatible CRM API.
type HTTPClient struct {
	APIBase      string
	LocationID   string
	MessageType  string // channel type for sends, e.g. "IG", "SMS"
	MessageLimit int    // page size for ListMessages

	// TokenFunc returns the current access token. Lets deployments plug in
	// a rotating-token source; defaults to a static token.
	TokenFunc func(ctx context.Context) (string, error)

	HTTP *http.Client
}

// NewHTTPClient creates a CRM client with a static access token.
func NewHTTPClient(apiBase, accessToken, locationID, messageType string, messageLimit int) *HTTPClient {
	if messageType == "" {
		messageType = "IG"
	}
	if messageLimit <= 0 {
		messageLimit = 50
	}
	return &HTTPClient{
		APIBase:      strings.TrimRight(apiBase, "/"),
		LocationID:   locationID,
		MessageType:  messageType,
		MessageLimit: messageLimit,
		TokenFunc: func(ctx context.Context) (string, error) {
			return accessToken, nil
		},
		HTTP: &http.Client{Timeout: 15 * time.Second},
	}
}

// do issues one authenticated request and returns the decoded JSON body.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	token, err := c.TokenFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving access token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("no CRM access token available")
	}

	endpoint := c.APIBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Authorization", "Bearer "+token)
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
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 300))
	}

	out := map[string]any{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	return out, nil
}

// GetConversationID resolves the contact's conversation via the search API.
func (c *HTTPClient) GetConversationID(ctx context.Context, contactID string) (string, error) {
	q := url.Values{}
	q.Set("locationId", c.LocationID)
	q.Set("contactId", contactID)

	out, err := c.do(ctx, http.MethodGet, "/conversations/search", q, nil)
	if err != nil {
		return "", err
	}

	convos, _ := out["conversations"].([]any)
	if len(convos) == 0 {
		return "", fmt.Errorf("no conversation found for contact %s", contactID)
	}
	first, _ := convos[0].(map[string]any)
	id, _ := first["id"].(string)
	if id == "" {
		return "", fmt.Errorf("conversation search returned no id for contact %s", contactID)
	}
	return id, nil
}

// ListMessages returns conversation history, most recent first.
func (c *HTTPClient) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", c.MessageLimit))
	q.Set("type", "TYPE_"+strings.ToUpper(typeName(c.MessageType)))

	out, err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", q, nil)
	if err != nil {
		return nil, err
	}

	// Response nests the list: {"messages": {"messages": [...]}}
	outer, _ := out["messages"].(map[string]any)
	rawList, _ := outer["messages"].([]any)
	if len(rawList) == 0 {
		return nil, fmt.Errorf("no messages in conversation %s", conversationID)
	}

	msgs := make([]Message, 0, len(rawList))
	for _, raw := range rawList {
		m, _ := raw.(map[string]any)
		if m == nil {
			continue
		}
		id, _ := m["id"].(string)
		body, _ := m["body"].(string)
		direction, _ := m["direction"].(string)
		msgs = append(msgs, Message{ID: id, Body: body, Direction: direction})
	}
	return msgs, nil
}

// SendMessage delivers an outbound message. The returned message id is
// required downstream as the new watermark, so its absence is an error.
func (c *HTTPClient) SendMessage(ctx context.Context, contactID, text string) (string, error) {
	payload := map[string]any{
		"locationId": c.LocationID,
		"contactId":  contactID,
		"message":    text,
		"type":       c.MessageType,
	}

	out, err := c.do(ctx, http.MethodPost, "/conversations/messages", nil, payload)
	if err != nil {
		return "", err
	}
	id, _ := out["messageId"].(string)
	if id == "" {
		return "", fmt.Errorf("send_message response carried no messageId for contact %s", contactID)
	}
	return id, nil
}

// UpdateContactFields writes custom field values.
func (c *HTTPClient) UpdateContactFields(ctx context.Context, contactID string, fields map[string]any) error {
	out, err := c.do(ctx, http.MethodPut, "/contacts/"+contactID, nil, fields)
	if err != nil {
		return err
	}
	// The API reports success in-body (and misspells it).
	if ok, _ := out["succeded"].(bool); !ok {
		return fmt.Errorf("update_contact not acknowledged for contact %s", contactID)
	}
	return nil
}

// AddTags adds tags and verifies they all landed.
func (c *HTTPClient) AddTags(ctx context.Context, contactID string, tags []string) error {
	out, err := c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/tags", nil, map[string]any{"tags": tags})
	if err != nil {
		return err
	}
	present := responseTags(out)
	for _, tag := range tags {
		if !present[strings.ToLower(tag)] {
			return fmt.Errorf("tag %q not present after add for contact %s", tag, contactID)
		}
	}
	return nil
}

// RemoveTags removes tags and verifies none remain.
func (c *HTTPClient) RemoveTags(ctx context.Context, contactID string, tags []string) error {
	out, err := c.do(ctx, http.MethodDelete, "/contacts/"+contactID+"/tags", nil, map[string]any{"tags": tags})
	if err != nil {
		return err
	}
	present := responseTags(out)
	for _, tag := range tags {
		if present[strings.ToLower(tag)] {
			return fmt.Errorf("tag %q still present after remove for contact %s", tag, contactID)
		}
	}
	return nil
}

func responseTags(out map[string]any) map[string]bool {
	raw, _ := out["tags"].([]any)
	set := make(map[string]bool, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			set[strings.ToLower(s)] = true
		}
	}
	return set
}

// typeName maps a send type ("IG") to its history-filter name ("INSTAGRAM").
func typeName(sendType string) string {
	switch strings.ToUpper(sendType) {
	case "IG":
		return "INSTAGRAM"
	case "FB":
		return "FACEBOOK"
	default:
		return strings.ToUpper(sendType)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
