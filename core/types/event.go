package types

// Event is the flattened form of a protocol event as it is stored in the
// audit trail and streamed to subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
