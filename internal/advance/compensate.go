package advance

import (
	"context"

	"github.com/dayuer/convoflow-go/internal/crm"
	"github.com/dayuer/convoflow-go/internal/logging"
)

// CompensationStep is one best-effort cleanup action with its own retry
// budget. Run reports success; it must be idempotent because it may be
// attempted several times.
type CompensationStep struct {
	Name    string
	Retries int
	Run     func(ctx context.Context) bool
}

// CompensationPlan is executed in order; a failing step never aborts the
// remaining plan.
type CompensationPlan []CompensationStep

// Report records which steps exhausted their retries.
type Report struct {
	FailedActions []string
}

// Clean reports whether every step eventually succeeded.
func (r Report) Clean() bool { return len(r.FailedActions) == 0 }

// Compensator runs cleanup plans when the pipeline cannot proceed. It is
// the last line of defense: it never panics and never returns an error,
// only a report.
type Compensator struct {
	// Notify, when set, publishes compensation outcomes to the ops feed.
	Notify func(kind string, fields map[string]any)
}

// Compensate executes the plan. Each step runs up to its retry budget,
// stopping at the first success; steps that never succeed are recorded by
// name. One structured summary line is emitted at the end.
func (c *Compensator) Compensate(ctx context.Context, reason, contactID string, plan CompensationPlan) Report {
	var report Report

	for _, step := range plan {
		retries := step.Retries
		if retries < 1 {
			retries = 1
		}

		success := false
		for attempt := 0; attempt < retries; attempt++ {
			if c.attempt(ctx, step) {
				success = true
				break
			}
		}
		if !success {
			report.FailedActions = append(report.FailedActions, step.Name)
		}
	}

	fields := []any{
		logging.FieldScope, "kill_bot",
		logging.FieldContactID, contactID,
		"reason", reason,
	}
	if report.Clean() {
		logging.L.Infow("compensation complete, all actions successful", fields...)
	} else {
		logging.L.Errorw("compensation complete, some actions failed",
			append(fields, "failed_actions", report.FailedActions)...)
	}
	if c.Notify != nil {
		c.Notify("compensated", map[string]any{
			"contact_id":     contactID,
			"reason":         reason,
			"failed_actions": report.FailedActions,
		})
	}
	return report
}

// attempt runs one step invocation, containing panics so a broken step
// counts as a failed attempt instead of escaping.
func (c *Compensator) attempt(ctx context.Context, step CompensationStep) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.L.Errorw("compensation step panicked",
				logging.FieldScope, "kill_bot",
				logging.FieldAction, step.Name,
				"panic", r)
			ok = false
		}
	}()
	return step.Run(ctx)
}

// DefaultPlan is the standard cleanup: detach the automation filter tag
// and mark the contact as failed. Both CRM tag operations are idempotent,
// so the retries are safe.
func DefaultPlan(client crm.Client, contactID, filterTag, failureTag string) CompensationPlan {
	return CompensationPlan{
		{
			Name:    "remove_filter_tag",
			Retries: 3,
			Run: func(ctx context.Context) bool {
				return client.RemoveTags(ctx, contactID, []string{filterTag}) == nil
			},
		},
		{
			Name:    "add_failure_tag",
			Retries: 3,
			Run: func(ctx context.Context) bool {
				return client.AddTags(ctx, contactID, []string{failureTag}) == nil
			},
		},
	}
}
