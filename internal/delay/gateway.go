package delay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/dayuer/convoflow-go/internal/crm"
	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
)

// Ack is returned to the webhook caller once a trigger is admitted.
type Ack struct {
	ContactID string        `json:"contactId"`
	RequestID string        `json:"requestId"`
	ExpiresIn time.Duration `json:"expiresInSeconds"`
}

// Gateway validates triggers and arms their coalescing keys.
type Gateway struct {
	Store          Store
	KeyPrefix      string
	Window         time.Duration
	Jitter         time.Duration // random extension in [0, Jitter); 0 disables
	RequiredFields []string

	// ConvoResolver, when set, backfills a missing conversation id from
	// the CRM before validation runs.
	ConvoResolver crm.Client
}

// Submit admits one trigger event. Validation failures come back as
// *job.ValidationError; store failures are returned to the caller rather
// than retried, the front door decides what to surface.
func (g *Gateway) Submit(ctx context.Context, j job.TriggerJob) (Ack, error) {
	if j.ConversationID == "" || j.ConversationID == "null" {
		if g.ConvoResolver != nil && j.ContactID != "" {
			convoID, err := g.ConvoResolver.GetConversationID(ctx, j.ContactID)
			if err == nil {
				j.ConversationID = convoID
			} else {
				logging.L.Warnw("conversation id backfill failed",
					logging.FieldScope, "gateway",
					logging.FieldContactID, j.ContactID,
					logging.FieldError, err.Error())
			}
		}
	}

	if err := j.Validate(g.RequiredFields); err != nil {
		return Ack{}, err
	}

	ttl := g.Window
	if g.Jitter > 0 {
		ttl += time.Duration(rand.Int63n(int64(g.Jitter)))
	}

	key := job.EncodeKey(g.KeyPrefix, j)
	if err := g.Store.SetWithTTL(ctx, key, "1", ttl); err != nil {
		return Ack{}, fmt.Errorf("arming debounce window: %w", err)
	}

	ack := Ack{
		ContactID: j.ContactID,
		RequestID: uuid.NewString(),
		ExpiresIn: ttl,
	}
	logging.L.Infow("trigger debounced",
		logging.FieldScope, "gateway",
		logging.FieldContactID, j.ContactID,
		logging.FieldRequestID, ack.RequestID,
		"ttl_seconds", ttl.Seconds())
	return ack, nil
}
