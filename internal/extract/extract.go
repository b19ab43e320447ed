// Package extract turns free-form messages into atomic facts.
//
// Extraction is two-tier: an LLM oracle produces structured facts with a
// confidence score, and a deterministic regex splitter serves as the fallback
// when the oracle is unavailable or unsure. Both tiers emit the same Fact
// shape so the ingestion pipeline does not care which one ran.
package extract

// Fact is a single atomic statement extracted from a message.
type Fact struct {
	Content      string `json:"content"`
	Type         string `json:"type"` // relationship|event|attribute|temporal|general
	EntityName   string `json:"entity_name,omitempty"`
	EntityType   string `json:"entity_type,omitempty"` // person|organization|place|event
	Relationship string `json:"relationship,omitempty"`
	EventType    string `json:"event_type,omitempty"`
	ValidFrom    string `json:"valid_from,omitempty"` // YYYY-MM-DD
	ValidTo      string `json:"valid_to,omitempty"`   // YYYY-MM-DD
}

// Entity is a person or thing mentioned in a message, with its relationship
// to the speaker when one was stated.
type Entity struct {
	Name         string
	Type         string
	Relationship string // empty when only the name was found
}

// Result is the outcome of an extraction pass.
type Result struct {
	Facts      []Fact
	Confidence float64
	Source     string // "oracle", "oracle_empty", "oracle_parse_error", "oracle_error", "fallback"
}

// ConfidenceThreshold is the minimum oracle confidence accepted before the
// pipeline falls back to regex extraction.
const ConfidenceThreshold = 0.7
