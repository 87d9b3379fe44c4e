package stats

import "encoding/json"

// Defaults applied by Client when a caller does not override them.
const (
	DefaultCount      int64   = 1
	DefaultSampleRate float64 = 1.0
)

// Counter is a counted occurrence of key.
type Counter struct {
	Key        string  `json:"key"`
	Count      int64   `json:"count"`
	SampleRate float64 `json:"sample_rate"`
}

// Timer is a duration measured for key.
type Timer struct {
	Key          string  `json:"key"`
	Milliseconds float64 `json:"milliseconds"`
	SampleRate   float64 `json:"sample_rate"`
}

// LogLine is a free-form line forwarded to the collector.
type LogLine struct {
	LogLine string `json:"log_line"`
}

// Gauge is a gauge sample for key.
type Gauge struct {
	Key string `json:"key"`
}

// Batch is the set of events accumulated between two flushes. It is also
// the request body of POST /v1/stats.
type Batch struct {
	Timers   []Timer   `json:"timers"`
	Counters []Counter `json:"counters"`
	LogLines []LogLine `json:"log_lines"`
	Gauges   []Gauge   `json:"gauges"`
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		Timers:   make([]Timer, 0),
		Counters: make([]Counter, 0),
		LogLines: make([]LogLine, 0),
		Gauges:   make([]Gauge, 0),
	}
}

// Len returns the number of events across all four sequences.
func (b *Batch) Len() int {
	return len(b.Timers) + len(b.Counters) + len(b.LogLines) + len(b.Gauges)
}

// MarshalJSON encodes empty sequences as [] so the collector always sees
// all four keys.
func (b Batch) MarshalJSON() ([]byte, error) {
	type wire Batch

	w := wire(b)

	if w.Timers == nil {
		w.Timers = []Timer{}
	}

	if w.Counters == nil {
		w.Counters = []Counter{}
	}

	if w.LogLines == nil {
		w.LogLines = []LogLine{}
	}

	if w.Gauges == nil {
		w.Gauges = []Gauge{}
	}

	return json.Marshal(w)
}
