// Package job defines the unit of work flowing through the pipeline and
// the coalescing key that deduplicates trigger bursts.
package job

import (
	"fmt"
	"strings"
)

// TriggerJob is one coalesced unit of conversation-advancement work.
//
// Field declaration order is canonical: the coalescing key is the JSON
// encoding of this struct, and two triggers for the same conversation must
// encode byte-identically for TTL re-arming to collapse them.
type TriggerJob struct {
	ContactID              string `json:"contact_id"`
	ConversationID         string `json:"conversation_id"`
	LastAutomatedMessageID string `json:"last_automated_message_id"`
	ThreadID               string `json:"thread_id"`
	AgentID                string `json:"agent_id"`
	FilterTag              string `json:"filter_tag"`
}

// ValidationError names the identity fields a trigger is missing.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trigger missing required fields: %s", strings.Join(e.MissingFields, ", "))
}

// fieldValue resolves a required-field name to its value. Unknown names
// resolve to "" and therefore always fail validation, which surfaces
// config typos instead of silently admitting bad jobs.
func (j TriggerJob) fieldValue(name string) string {
	switch name {
	case "contact_id":
		return j.ContactID
	case "conversation_id":
		return j.ConversationID
	case "thread_id":
		return j.ThreadID
	case "agent_id":
		return j.AgentID
	case "last_automated_message_id":
		return j.LastAutomatedMessageID
	case "filter_tag":
		return j.FilterTag
	}
	return ""
}

// placeholder reports whether a field value counts as absent.
// Upstream form builders send the literal string "null" for empty fields.
func placeholder(v string) bool {
	return v == "" || v == "null"
}

// Validate checks that every field in required is present and
// non-placeholder. Returns a *ValidationError naming the gaps.
func (j TriggerJob) Validate(required []string) error {
	var missing []string
	for _, name := range required {
		if placeholder(j.fieldValue(name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}
	return nil
}
