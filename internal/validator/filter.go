package validator

import "strings"

// zeroTimeSuffix is the time-of-day the upstream replicator emits for a
// pure date value encoded as an ISO-8601 datetime, per spec §4.3's example
// ("a zero-time ISO-8601 timestamp collapsed to a date").
const zeroTimeSuffix = "T00:00:00Z"

// NomisStyleFilter collapses any string field ending in a zero
// time-of-day ISO-8601 suffix down to its date-only prefix, mirroring
// NomisDataFilter's handling of the upstream system's date representation.
func NomisStyleFilter(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && strings.HasSuffix(s, zeroTimeSuffix) {
			out[k] = strings.TrimSuffix(s, zeroTimeSuffix)
			continue
		}
		out[k] = v
	}
	return out
}
