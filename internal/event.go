package internal

import "encoding/json"

// Event is the envelope published on the message bus.
type Event struct {
	Provider  string          `json:"provider"`
	Name      string          `json:"name"`
	RawType   string          `json:"raw_type,omitempty"`
	Project   string          `json:"project"`
	RequestID string          `json:"request_id,omitempty"`
	Issue     *IssueSummary   `json:"issue,omitempty"`
	Comment   *CommentSummary `json:"comment,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Data is the flattened payload the routing rules evaluate against.
	Data map[string]interface{} `json:"-"`
}

type IssueSummary struct {
	ID     string `json:"id"`
	Author string `json:"author,omitempty"`
}

type CommentSummary struct {
	ID     string `json:"id"`
	Body   string `json:"body,omitempty"`
	Author string `json:"author,omitempty"`
}

// FlattenPayload decodes raw and flattens it for rule evaluation. A payload
// that is not a JSON object yields an empty map.
func FlattenPayload(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]interface{}{}
	}
	return Flatten(decoded)
}
