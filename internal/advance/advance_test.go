package advance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/convoflow-go/internal/actions"
	"github.com/dayuer/convoflow-go/internal/crm"
	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/reason"
)

// --- fakes ---

type fakeCRM struct {
	mu sync.Mutex

	messages []crm.Message
	listErr  error

	sendID  string
	sendErr error
	sent    []string

	updateErr error
	updated   []map[string]any

	removeFailures int // first N RemoveTags calls fail
	removed        [][]string
	added          [][]string
}

func (f *fakeCRM) GetConversationID(_ context.Context, _ string) (string, error) {
	return "v1", nil
}

func (f *fakeCRM) ListMessages(_ context.Context, _ string) ([]crm.Message, error) {
	return f.messages, f.listErr
}

func (f *fakeCRM) SendMessage(_ context.Context, _ string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, text)
	return f.sendID, nil
}

func (f *fakeCRM) UpdateContactFields(_ context.Context, _ string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, fields)
	return nil
}

func (f *fakeCRM) AddTags(_ context.Context, _ string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, tags)
	return nil
}

func (f *fakeCRM) RemoveTags(_ context.Context, _ string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeFailures > 0 {
		f.removeFailures--
		return errors.New("transient")
	}
	f.removed = append(f.removed, tags)
	return nil
}

type fakeReason struct {
	outcome reason.Outcome
	runErr  error
	called  bool

	ackErr error
	acked  []string
}

func (f *fakeReason) RunToCompletion(_ context.Context, _, _ string, _ []string) (reason.Outcome, error) {
	f.called = true
	return f.outcome, f.runErr
}

func (f *fakeReason) AcknowledgeFunctionCall(_ context.Context, _, _, callID string) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, callID)
	return nil
}

type fakeTracker struct {
	records []map[string]any
}

func (f *fakeTracker) CreateRecord(_ context.Context, fields map[string]any) (string, error) {
	f.records = append(f.records, fields)
	return "rec1", nil
}

func (f *fakeTracker) UpdateRecord(_ context.Context, _ string, _ map[string]any) error {
	return nil
}

func testJob() job.TriggerJob {
	return job.TriggerJob{
		ContactID:              "c1",
		ConversationID:         "v1",
		ThreadID:               "t1",
		AgentID:                "a1",
		LastAutomatedMessageID: "w1",
		FilterTag:              "bot-flow",
	}
}

// historyWithNews is a conversation, most recent first, with two inbound
// messages newer than the watermark.
func historyWithNews() []crm.Message {
	return []crm.Message{
		{ID: "m3", Body: "how much is it?", Direction: crm.DirectionInbound},
		{ID: "m2", Body: "hi there", Direction: crm.DirectionInbound},
		{ID: "w1", Body: "welcome!", Direction: crm.DirectionOutbound},
		{ID: "m0", Body: "hello?", Direction: crm.DirectionInbound},
	}
}

func newAdvancer(c *fakeCRM, r *fakeReason, tr *fakeTracker) *Advancer {
	set, _ := actions.Load("")
	a := &Advancer{
		CRM:         c,
		Reason:      r,
		Actions:     set,
		Compensator: &Compensator{},
		FailureTag:  "bot failure",
	}
	if tr != nil {
		a.Tracker = tr
	}
	return a
}

// --- compileHistory ---

func TestCompileHistory_CollectsUntilWatermark(t *testing.T) {
	got, err := compileHistory(historyWithNews(), "w1")
	require.NoError(t, err)
	// Chronological order, watermark and older messages excluded.
	assert.Equal(t, []string{"hi there", "how much is it?"}, got)
}

func TestCompileHistory_SkipsOutboundMessages(t *testing.T) {
	msgs := []crm.Message{
		{ID: "m2", Body: "new question", Direction: crm.DirectionInbound},
		{ID: "m1", Body: "auto reply", Direction: crm.DirectionOutbound},
		{ID: "w1", Body: "welcome", Direction: crm.DirectionOutbound},
	}
	got, err := compileHistory(msgs, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new question"}, got)
}

func TestCompileHistory_MissingWatermark(t *testing.T) {
	_, err := compileHistory(historyWithNews(), "never-sent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watermark")
}

func TestCompileHistory_NoNewInbound(t *testing.T) {
	msgs := []crm.Message{
		{ID: "w1", Body: "welcome", Direction: crm.DirectionOutbound},
		{ID: "m0", Body: "hello", Direction: crm.DirectionInbound},
	}
	_, err := compileHistory(msgs, "w1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no new inbound")
}

// --- stripCitations ---

func TestStripCitations(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no markers unchanged", "hello world", "hello world"},
		{"single pair removed", "hello 【4:0†source】world", "hello world"},
		{"multiple pairs", "a【1】b【2】c", "abc"},
		{"only citation", "【ref】", ""},
		{"unmatched opener preserved", "hello 【dangling", "hello 【dangling"},
		{"unmatched closer preserved", "hello 】there", "hello 】there"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCitations(tt.in))
		})
	}
}

func TestStripCitations_Idempotent(t *testing.T) {
	once := stripCitations("keep 【drop】 this 【too】 end")
	assert.Equal(t, once, stripCitations(once))
}

// --- Compensator ---

func TestCompensator_EventualSuccessIsNotFailed(t *testing.T) {
	attempts := 0
	plan := CompensationPlan{{
		Name:    "flaky",
		Retries: 3,
		Run: func(context.Context) bool {
			attempts++
			return attempts == 3 // fails twice, succeeds on the third
		},
	}}

	report := (&Compensator{}).Compensate(context.Background(), "test", "c1", plan)
	assert.True(t, report.Clean())
	assert.Equal(t, 3, attempts)
}

func TestCompensator_ExhaustedRetriesRecordedByName(t *testing.T) {
	ran := []string{}
	plan := CompensationPlan{
		{Name: "doomed", Retries: 2, Run: func(context.Context) bool {
			ran = append(ran, "doomed")
			return false
		}},
		{Name: "fine", Retries: 1, Run: func(context.Context) bool {
			ran = append(ran, "fine")
			return true
		}},
	}

	report := (&Compensator{}).Compensate(context.Background(), "test", "c1", plan)
	assert.Equal(t, []string{"doomed"}, report.FailedActions)
	// The failing step must not abort the remaining plan.
	assert.Equal(t, []string{"doomed", "doomed", "fine"}, ran)
}

func TestCompensator_StepPanicCountsAsFailure(t *testing.T) {
	plan := CompensationPlan{{
		Name:    "explosive",
		Retries: 2,
		Run:     func(context.Context) bool { panic("boom") },
	}}

	report := (&Compensator{}).Compensate(context.Background(), "test", "c1", plan)
	assert.Equal(t, []string{"explosive"}, report.FailedActions)
}

func TestDefaultPlan_RetriesTransientFailures(t *testing.T) {
	c := &fakeCRM{removeFailures: 2}
	plan := DefaultPlan(c, "c1", "bot-flow", "bot failure")

	report := (&Compensator{}).Compensate(context.Background(), "test", "c1", plan)
	assert.True(t, report.Clean())
	assert.Equal(t, [][]string{{"bot-flow"}}, c.removed)
	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}

// --- Advancer ---

func TestAdvance_CompletedSendsStrippedReplyAndMovesWatermark(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews(), sendID: "m100"}
	r := &fakeReason{outcome: reason.Completed("hello 【4:2†kb】world")}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	require.Equal(t, []string{"hello world"}, c.sent)
	require.Len(t, c.updated, 1)
	custom := c.updated[0]["customFields"].([]map[string]any)
	assert.Equal(t, watermarkField, custom[0]["key"])
	assert.Equal(t, "m100", custom[0]["field_value"])
	assert.Empty(t, c.added, "no compensation on the happy path")
}

func TestAdvance_SendWithoutMessageIDCompensates(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews(), sendErr: errors.New("no messageId in response")}
	r := &fakeReason{outcome: reason.Completed("hi")}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	assert.Empty(t, c.updated, "watermark must not move on a failed send")
	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
	assert.Equal(t, [][]string{{"bot-flow"}}, c.removed)
}

func TestAdvance_HistoryFailureSkipsReasoning(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews()}
	r := &fakeReason{outcome: reason.Completed("never used")}
	a := newAdvancer(c, r, nil)

	j := testJob()
	j.LastAutomatedMessageID = "stale-watermark"
	a.Advance(context.Background(), j)

	assert.False(t, r.called, "reasoning must not run on invalid history")
	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}

func TestAdvance_ListMessagesErrorCompensates(t *testing.T) {
	c := &fakeCRM{listErr: errors.New("CRM down")}
	r := &fakeReason{}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	assert.False(t, r.called)
	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}

func TestAdvance_RecognizedActionRunsPlanAndAcks(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews(), sendID: "m200"}
	tr := &fakeTracker{}
	r := &fakeReason{outcome: reason.RequiresAction("r1", "call_1", "tier_2", map[string]any{"budget": "high"})}
	a := newAdvancer(c, r, tr)

	a.Advance(context.Background(), testJob())

	assert.Equal(t, [][]string{{"bot-flow"}}, c.removed, "filter tag detached")
	require.Len(t, c.sent, 1, "closing message sent")
	require.Len(t, tr.records, 1, "opportunity recorded")
	assert.Equal(t, "tier_2", tr.records[0]["stage"])
	assert.Equal(t, []string{"call_1"}, r.acked)
	assert.Empty(t, c.added, "recognized action is not a failure")
}

func TestAdvance_HandoffSkipsOpportunity(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews(), sendID: "m200"}
	tr := &fakeTracker{}
	r := &fakeReason{outcome: reason.RequiresAction("r1", "call_2", "handoff", nil)}
	a := newAdvancer(c, r, tr)

	a.Advance(context.Background(), testJob())

	assert.Empty(t, tr.records)
	assert.Equal(t, []string{"call_2"}, r.acked)
}

func TestAdvance_UnrecognizedActionCompensates(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews()}
	r := &fakeReason{outcome: reason.RequiresAction("r1", "call_3", "transfer_funds", nil)}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	assert.Empty(t, r.acked, "unknown calls are never acknowledged")
	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}

func TestAdvance_FailedRunCompensates(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews()}
	r := &fakeReason{outcome: reason.Failed("expired")}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}

func TestAdvance_ReasoningErrorCompensates(t *testing.T) {
	c := &fakeCRM{messages: historyWithNews()}
	r := &fakeReason{runErr: errors.New("timeout waiting for terminal state")}
	a := newAdvancer(c, r, nil)

	a.Advance(context.Background(), testJob())

	assert.Equal(t, [][]string{{"bot failure"}}, c.added)
}
