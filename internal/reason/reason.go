// Package reason wraps the reasoning collaborator (an assistants-style API
// with threads, runs, and function calls).
//
// The advancer only ever sees a terminal Outcome: the status-poll loop is
// this package's problem, bounded by a configurable total timeout so a
// stuck run cannot hold a contact's lane forever.
package reason

import (
	"context"
	"fmt"
)

// Kind tags an Outcome variant.
type Kind string

const (
	KindCompleted      Kind = "completed"
	KindRequiresAction Kind = "requires_action"
	KindFailed         Kind = "failed"
)

// Outcome is the terminal result of one reasoning run.
type Outcome struct {
	Kind Kind

	// Completed
	Content string

	// RequiresAction
	RunID      string
	CallID     string
	ActionName string
	ActionArgs map[string]any

	// Failed
	Status string
}

// Completed builds a completed outcome.
func Completed(content string) Outcome {
	return Outcome{Kind: KindCompleted, Content: content}
}

// RequiresAction builds a function-call outcome.
func RequiresAction(runID, callID, name string, args map[string]any) Outcome {
	return Outcome{Kind: KindRequiresAction, RunID: runID, CallID: callID, ActionName: name, ActionArgs: args}
}

// Failed builds a failed outcome carrying the raw run status.
func Failed(status string) Outcome {
	return Outcome{Kind: KindFailed, Status: status}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindCompleted:
		return "completed"
	case KindRequiresAction:
		return fmt.Sprintf("requires_action(%s)", o.ActionName)
	case KindFailed:
		return fmt.Sprintf("failed(%s)", o.Status)
	}
	return string(o.Kind)
}

// Client is the reasoning capability surface the pipeline depends on.
type Client interface {
	// RunToCompletion appends newMessages to the thread, starts a run with
	// the given agent configuration, and blocks until the run reaches a
	// terminal state or the configured timeout elapses.
	RunToCompletion(ctx context.Context, threadID, agentID string, newMessages []string) (Outcome, error)

	// AcknowledgeFunctionCall reports a handled function call back to the
	// run so its session can proceed.
	AcknowledgeFunctionCall(ctx context.Context, threadID, runID, callID string) error
}
