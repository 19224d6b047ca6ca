package delay

import (
	"context"
	"strings"

	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
)

// Enqueuer receives decoded jobs. Enqueue must not block on job
// completion; a slow contact would otherwise stall every other expiry.
type Enqueuer interface {
	Enqueue(j job.TriggerJob)
}

// Listener consumes the delay store's expiry stream and feeds the
// dispatcher.
type Listener struct {
	Store          Store
	Dispatcher     Enqueuer
	KeyPrefix      string
	RequiredFields []string

	// Notify, when set, publishes pipeline events to the ops feed.
	Notify func(kind string, fields map[string]any)
}

// Run blocks until ctx is cancelled. A malformed key is logged and
// skipped; nothing terminates the loop except shutdown.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.Store.SubscribeExpirations(ctx)
	if err != nil {
		return err
	}

	logging.L.Infow("expiry listener started", logging.FieldScope, "listener")
	for {
		select {
		case <-ctx.Done():
			logging.L.Infow("expiry listener stopped", logging.FieldScope, "listener")
			return nil
		case key, ok := <-ch:
			if !ok {
				logging.L.Warnw("expiry stream closed", logging.FieldScope, "listener")
				return nil
			}
			l.handleExpiry(key)
		}
	}
}

func (l *Listener) handleExpiry(key string) {
	// Other keys share the store; only ours matter.
	if !strings.HasPrefix(key, l.KeyPrefix) {
		return
	}

	j, err := job.DecodeKey(l.KeyPrefix, key)
	if err == nil {
		err = j.Validate(l.RequiredFields)
	}
	if err != nil {
		logging.L.Errorw("malformed expired key, skipping",
			logging.FieldScope, "listener",
			logging.FieldKey, key,
			logging.FieldError, err.Error())
		l.notify("decode_error", map[string]any{"key": key, "error": err.Error()})
		return
	}

	logging.L.Infow("debounce window expired, dispatching",
		logging.FieldScope, "listener",
		logging.FieldContactID, j.ContactID,
		logging.FieldConvoID, j.ConversationID)
	l.notify("job_dispatched", map[string]any{"contact_id": j.ContactID})

	l.Dispatcher.Enqueue(j)
}

func (l *Listener) notify(kind string, fields map[string]any) {
	if l.Notify != nil {
		l.Notify(kind, fields)
	}
}
