package reason

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assistantsStub simulates the thread/run endpoints with a scripted
// sequence of run statuses.
type assistantsStub struct {
	statuses   []string // consumed one per poll
	polls      atomic.Int32
	messages   atomic.Int32
	ackedCalls []string
	finalText  string
	toolCall   map[string]any
}

func (s *assistantsStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads/t1/messages":
			s.messages.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"id": "msg"})

		case r.Method == http.MethodPost && r.URL.Path == "/threads/t1/runs":
			json.NewEncoder(w).Encode(map[string]any{"id": "r1", "status": "queued"})

		case r.Method == http.MethodGet && r.URL.Path == "/threads/t1/runs/r1":
			i := int(s.polls.Add(1)) - 1
			if i >= len(s.statuses) {
				i = len(s.statuses) - 1
			}
			resp := map[string]any{"id": "r1", "status": s.statuses[i]}
			if s.statuses[i] == "requires_action" {
				resp["required_action"] = map[string]any{
					"submit_tool_outputs": map[string]any{
						"tool_calls": []any{s.toolCall},
					},
				}
			}
			json.NewEncoder(w).Encode(resp)

		case r.Method == http.MethodGet && r.URL.Path == "/threads/t1/messages":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []any{map[string]any{
					"content": []any{map[string]any{
						"text": map[string]any{"value": s.finalText},
					}},
				}},
			})

		case r.Method == http.MethodPost && r.URL.Path == "/threads/t1/runs/r1/submit_tool_outputs":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			outputs, _ := body["tool_outputs"].([]any)
			first, _ := outputs[0].(map[string]any)
			id, _ := first["tool_call_id"].(string)
			s.ackedCalls = append(s.ackedCalls, id)
			json.NewEncoder(w).Encode(map[string]any{"id": "r1"})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}
}

func newStubClient(t *testing.T, stub *assistantsStub) *HTTPClient {
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "key", 5*time.Millisecond, time.Second)
}

func TestRunToCompletion_Completed(t *testing.T) {
	stub := &assistantsStub{
		statuses:  []string{"queued", "in_progress", "completed"},
		finalText: "hello there",
	}
	c := newStubClient(t, stub)

	out, err := c.RunToCompletion(context.Background(), "t1", "a1", []string{"hi", "anyone?"})
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, out.Kind)
	assert.Equal(t, "hello there", out.Content)
	assert.Equal(t, int32(2), stub.messages.Load(), "both new messages appended")
	assert.GreaterOrEqual(t, stub.polls.Load(), int32(3), "non-terminal statuses were not acted on")
}

func TestRunToCompletion_RequiresAction(t *testing.T) {
	stub := &assistantsStub{
		statuses: []string{"requires_action"},
		toolCall: map[string]any{
			"id": "call_7",
			"function": map[string]any{
				"name":      "handoff",
				"arguments": `{"reason":"pricing"}`,
			},
		},
	}
	c := newStubClient(t, stub)

	out, err := c.RunToCompletion(context.Background(), "t1", "a1", []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, KindRequiresAction, out.Kind)
	assert.Equal(t, "r1", out.RunID)
	assert.Equal(t, "call_7", out.CallID)
	assert.Equal(t, "handoff", out.ActionName)
	assert.Equal(t, "pricing", out.ActionArgs["reason"])
}

func TestRunToCompletion_FailedStatus(t *testing.T) {
	stub := &assistantsStub{statuses: []string{"in_progress", "failed"}}
	c := newStubClient(t, stub)

	out, err := c.RunToCompletion(context.Background(), "t1", "a1", []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, "failed", out.Status)
}

func TestRunToCompletion_TimesOut(t *testing.T) {
	stub := &assistantsStub{statuses: []string{"in_progress"}}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, "key", 5*time.Millisecond, 30*time.Millisecond)

	_, err := c.RunToCompletion(context.Background(), "t1", "a1", []string{"hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal state")
}

func TestRunToCompletion_ContextCancel(t *testing.T) {
	stub := &assistantsStub{statuses: []string{"in_progress"}}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, "key", 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := c.RunToCompletion(ctx, "t1", "a1", []string{"hi"})
	assert.Error(t, err)
}

func TestAcknowledgeFunctionCall(t *testing.T) {
	stub := &assistantsStub{}
	c := newStubClient(t, stub)

	err := c.AcknowledgeFunctionCall(context.Background(), "t1", "r1", "call_9")
	require.NoError(t, err)
	assert.Equal(t, []string{"call_9"}, stub.ackedCalls)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "completed", Completed("x").String())
	assert.Equal(t, "requires_action(handoff)", RequiresAction("r", "c", "handoff", nil).String())
	assert.Equal(t, "failed(expired)", Failed("expired").String())
}
