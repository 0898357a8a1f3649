package lpmarshaller

import (
	"encoding/json"
)

// Response is the long-poll batch envelope. Each element is a change event
// frame exactly as websocket clients receive it.
type Response struct {
	Events []json.RawMessage `json:"events"`
}

// MarshallFrames wraps already-encoded frames into a single JSON batch.
func MarshallFrames(frames [][]byte) ([]byte, error) {
	res := Response{
		Events: make([]json.RawMessage, 0, len(frames)),
	}
	for _, f := range frames {
		res.Events = append(res.Events, json.RawMessage(f))
	}
	return json.Marshal(res)
}
