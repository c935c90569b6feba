package nlu

import "time"

// Utterance is one piece of user input. Immutable once created.
type Utterance struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Intent is a classified user goal with extraction side-channel parameters.
type Intent struct {
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Entity is a labeled span over the original utterance. Spans are half-open.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Overlaps reports whether two spans intersect.
func (e Entity) Overlaps(other Entity) bool {
	return !(e.End <= other.Start || other.End <= e.Start)
}

// Result is the combined NLU output for one utterance.
type Result struct {
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	Intent         *Intent       `json:"intent,omitempty"`
	Entities       []Entity      `json:"entities"`
	ProcessingTime time.Duration `json:"processing_time"`
}
