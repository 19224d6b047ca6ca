// Package crm wraps the CRM collaborator (GoHighLevel-compatible API).
//
// The pipeline consumes the Client interface; HTTPClient is the real
// implementation. Only the calls the advancer and compensator need are
// exposed.
package crm

import "context"

// Direction of a conversation message.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is one entry of a conversation's history.
type Message struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Direction string `json:"direction"`
}

// Client is the CRM capability surface the pipeline depends on.
type Client interface {
	// GetConversationID resolves the contact's active conversation.
	GetConversationID(ctx context.Context, contactID string) (string, error)
	// ListMessages returns the conversation history, most recent first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// SendMessage delivers an outbound message and returns its new id.
	SendMessage(ctx context.Context, contactID, text string) (string, error)
	// UpdateContactFields writes custom field values on the contact.
	UpdateContactFields(ctx context.Context, contactID string, fields map[string]any) error
	// AddTags / RemoveTags mutate the contact's tag set. Both verify the
	// result against the response and are idempotent, so retries are safe.
	AddTags(ctx context.Context, contactID string, tags []string) error
	RemoveTags(ctx context.Context, contactID string, tags []string) error
}
