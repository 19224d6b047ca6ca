// Package advance drives one conversation forward: compile the unseen
// inbound history, run the reasoning engine to a terminal outcome, apply
// exactly one side effect, and compensate on any failure.
package advance

import (
	"context"

	"github.com/dayuer/convoflow-go/internal/actions"
	"github.com/dayuer/convoflow-go/internal/crm"
	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
	"github.com/dayuer/convoflow-go/internal/reason"
	"github.com/dayuer/convoflow-go/internal/tracker"
)

// watermarkField is the CRM custom-field key holding the id of the most
// recent automated message.
const watermarkField = "last_automated_message_id"

// Advancer consumes jobs handed over by the dispatcher.
type Advancer struct {
	CRM         crm.Client
	Reason      reason.Client
	Tracker     tracker.Client // optional; tier actions skip recording when nil
	Actions     *actions.Set
	Compensator *Compensator
	FailureTag  string

	// Notify, when set, publishes pipeline events to the ops feed.
	Notify func(kind string, fields map[string]any)
}

// Advance processes one job. It never returns an error and never panics
// out: every failure path ends in compensation, so nothing can poison the
// contact's lane or the dispatcher.
func (a *Advancer) Advance(ctx context.Context, j job.TriggerJob) {
	defer func() {
		if r := recover(); r != nil {
			logging.L.Errorw("advancer panicked, compensating",
				logging.FieldScope, "advancer",
				logging.FieldContactID, j.ContactID,
				"panic", r)
			a.compensate(ctx, "internal error", j)
		}
	}()

	// Step 1: compile the unseen history.
	msgs, err := a.CRM.ListMessages(ctx, j.ConversationID)
	if err != nil {
		logging.L.Errorw("history retrieval failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldConvoID, j.ConversationID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "history retrieval failed", j)
		return
	}

	newMessages, err := compileHistory(msgs, j.LastAutomatedMessageID)
	if err != nil {
		logging.L.Errorw("history compilation failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "history compilation failed", j)
		return
	}

	// Step 2: run reasoning to a terminal outcome.
	outcome, err := a.Reason.RunToCompletion(ctx, j.ThreadID, j.AgentID, newMessages)
	if err != nil {
		logging.L.Errorw("reasoning invocation failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldThreadID, j.ThreadID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "reasoning invocation failed", j)
		return
	}

	// Step 3: branch on the outcome.
	switch outcome.Kind {
	case reason.KindCompleted:
		a.deliverReply(ctx, j, outcome.Content)
	case reason.KindRequiresAction:
		a.performAction(ctx, j, outcome)
	case reason.KindFailed:
		logging.L.Errorw("reasoning run failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			"status", outcome.Status)
		a.compensate(ctx, "run "+outcome.Status, j)
	default:
		a.compensate(ctx, "unexpected outcome "+string(outcome.Kind), j)
	}
}

// deliverReply sends the completed content and moves the watermark.
func (a *Advancer) deliverReply(ctx context.Context, j job.TriggerJob, content string) {
	text := stripCitations(content)

	messageID, err := a.CRM.SendMessage(ctx, j.ContactID, text)
	if err != nil {
		logging.L.Errorw("outbound send failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "outbound send failed", j)
		return
	}

	err = a.CRM.UpdateContactFields(ctx, j.ContactID, map[string]any{
		"customFields": []map[string]any{
			{"key": watermarkField, "field_value": messageID},
		},
	})
	if err != nil {
		logging.L.Errorw("watermark update failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "watermark update failed", j)
		return
	}

	logging.L.Infow("conversation advanced",
		logging.FieldScope, "advancer",
		logging.FieldContactID, j.ContactID,
		"new_watermark", messageID)
	a.notify("advanced", map[string]any{"contact_id": j.ContactID, "outcome": "completed"})
}

// performAction handles a structured function call: match it against the
// closed action set, run the action's wind-down sequence, then acknowledge
// the call so the reasoning session can proceed.
func (a *Advancer) performAction(ctx context.Context, j job.TriggerJob, outcome reason.Outcome) {
	name, ok := actions.Parse(outcome.ActionName)
	if !ok {
		logging.L.Errorw("unrecognized action requested",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldAction, outcome.ActionName)
		a.compensate(ctx, "unrecognized action "+outcome.ActionName, j)
		return
	}

	copySpec := a.Actions.Get(name)
	plan := CompensationPlan{
		{
			Name:    "remove_filter_tag",
			Retries: 3,
			Run: func(ctx context.Context) bool {
				return a.CRM.RemoveTags(ctx, j.ContactID, []string{j.FilterTag}) == nil
			},
		},
	}
	if copySpec.ClosingMessage != "" {
		plan = append(plan, CompensationStep{
			Name:    "send_closing_message",
			Retries: 2,
			Run: func(ctx context.Context) bool {
				_, err := a.CRM.SendMessage(ctx, j.ContactID, copySpec.ClosingMessage)
				return err == nil
			},
		})
	}
	if copySpec.RecordOpportunity && a.Tracker != nil {
		plan = append(plan, CompensationStep{
			Name:    "record_opportunity",
			Retries: 2,
			Run: func(ctx context.Context) bool {
				_, err := a.Tracker.CreateRecord(ctx, map[string]any{
					"contact_id":      j.ContactID,
					"conversation_id": j.ConversationID,
					"stage":           copySpec.Stage,
					"action":          string(name),
				})
				return err == nil
			},
		})
	}

	report := a.Compensator.Compensate(ctx, "action "+string(name), j.ContactID, plan)

	if err := a.Reason.AcknowledgeFunctionCall(ctx, j.ThreadID, outcome.RunID, outcome.CallID); err != nil {
		logging.L.Errorw("function call acknowledgment failed",
			logging.FieldScope, "advancer",
			logging.FieldContactID, j.ContactID,
			logging.FieldRunID, outcome.RunID,
			logging.FieldError, err.Error())
		a.compensate(ctx, "acknowledgment failed", j)
		return
	}

	logging.L.Infow("action performed",
		logging.FieldScope, "advancer",
		logging.FieldContactID, j.ContactID,
		logging.FieldAction, string(name),
		"clean", report.Clean())
	a.notify("advanced", map[string]any{"contact_id": j.ContactID, "outcome": string(name)})
}

func (a *Advancer) compensate(ctx context.Context, why string, j job.TriggerJob) {
	a.Compensator.Compensate(ctx, why, j.ContactID,
		DefaultPlan(a.CRM, j.ContactID, j.FilterTag, a.FailureTag))
}

func (a *Advancer) notify(kind string, fields map[string]any) {
	if a.Notify != nil {
		a.Notify(kind, fields)
	}
}
