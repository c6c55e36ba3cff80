package types

// Event is the wire representation of a structured state change surfaced to
// off-chain observers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
