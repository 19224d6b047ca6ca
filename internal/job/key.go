package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EncodeKey renders a job into its coalescing key: prefix + compact JSON
// of the identity fields in canonical order. Pure function of the job, so
// re-encoding the same logical event always yields the same bytes and a
// repeated write to the delay store re-arms the TTL instead of creating a
// second pending job.
func EncodeKey(prefix string, j TriggerJob) string {
	// encoding/json emits struct fields in declaration order with no
	// whitespace, which is exactly the stability we need.
	data, _ := json.Marshal(j)
	return prefix + string(data)
}

// DecodeKey parses an expired key back into a TriggerJob.
func DecodeKey(prefix, key string) (TriggerJob, error) {
	payload, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return TriggerJob{}, fmt.Errorf("key %q lacks prefix %q", key, prefix)
	}
	var j TriggerJob
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return TriggerJob{}, fmt.Errorf("decoding key payload: %w", err)
	}
	return j, nil
}
