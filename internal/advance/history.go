package advance

import (
	"fmt"

	"github.com/dayuer/convoflow-go/internal/crm"
)

// compileHistory collects the inbound messages that arrived after the
// watermark (the last automated message already delivered). msgs arrive
// most recent first; we walk them in that order, stop at the watermark,
// and return the collected bodies oldest first.
//
// A missing watermark or an empty collection means there is nothing valid
// to react to, so the caller must compensate instead of invoking reasoning
// on bad input.
func compileHistory(msgs []crm.Message, watermark string) ([]string, error) {
	var collected []string
	found := false

	for _, m := range msgs {
		if m.ID == watermark {
			found = true
			break
		}
		if m.Direction == crm.DirectionInbound {
			collected = append(collected, m.Body)
		}
	}

	if !found {
		return nil, fmt.Errorf("watermark %s not found in conversation history", watermark)
	}
	if len(collected) == 0 {
		return nil, fmt.Errorf("no new inbound messages since watermark %s", watermark)
	}

	// Reverse into chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}
