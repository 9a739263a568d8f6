package pipeline

import "encoding/json"

// payload is the cache-wire shape for one Query call: the ranked
// results plus the per-source outcome summary from the fan-out that
// produced them. Encoding both together means every concurrent waiter
// on a coalesced GetOrLoad sees the same results AND the same source
// status, whether or not it was the goroutine that actually ran the
// fan-out.
type payload struct {
	Results  []Result
	Statuses []SourceStatus
}

func encodePayload(results []Result, statuses []SourceStatus) []byte {
	data, _ := json.Marshal(payload{Results: results, Statuses: statuses})
	return data
}

func decodePayload(data []byte) ([]Result, []SourceStatus) {
	var p payload
	_ = json.Unmarshal(data, &p)
	return p.Results, p.Statuses
}
