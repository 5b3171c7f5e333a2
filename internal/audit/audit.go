// Package audit keeps the append-only step log of a single decision session.
package audit

import (
	"log"
	"time"
)

// Step names written by the decision loop.
const (
	StepIterationStart  = "iteration_start"
	StepToolDispatch    = "tool_dispatch"
	StepToolCallIgnored = "tool_call_ignored"
	StepModelFailure    = "model_failure"
	StepTermination     = "termination"
)

// Actors.
const (
	ActorController = "controller"
	ActorModel      = "model"
	ActorTool       = "tool"
)

// Record is one immutable step of a session. Seq starts at 1 and is contiguous.
type Record struct {
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Step      string         `json:"step"`
	Actor     string         `json:"actor"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

// Entry is what callers hand to Record; the sink assigns Seq and Timestamp.
type Entry struct {
	Step    string
	Actor   string
	Tool    string
	Input   map[string]any
	Output  map[string]any
	Success bool
	Error   string
}

// Mirror receives a copy of every record, e.g. a durable store.
type Mirror interface {
	Append(sessionID string, rec Record) error
}

// Options configure a Sink. Zero values are usable.
type Options struct {
	Mirror Mirror
	Now    func() time.Time
	// MaxStringRunes caps string values; 0 means DefaultMaxStringRunes.
	MaxStringRunes int
}

// Sink belongs to exactly one session and is not safe for concurrent use;
// a session has a single goroutine of control.
type Sink struct {
	sessionID string
	opts      Options
	records   []Record
}

// NewSink returns an empty sink for sessionID.
func NewSink(sessionID string, opts Options) *Sink {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxStringRunes <= 0 {
		opts.MaxStringRunes = DefaultMaxStringRunes
	}
	return &Sink{sessionID: sessionID, opts: opts}
}

// SessionID returns the session this sink belongs to.
func (s *Sink) SessionID() string { return s.sessionID }

// Record redacts e, appends it and returns the stored record.
// Mirror failures are logged; they never reject the record.
func (s *Sink) Record(e Entry) Record {
	rec := Record{
		Seq:       len(s.records) + 1,
		Timestamp: s.opts.Now().UTC(),
		Step:      e.Step,
		Actor:     e.Actor,
		Tool:      e.Tool,
		Input:     redactMap(e.Input, s.opts.MaxStringRunes),
		Output:    redactMap(e.Output, s.opts.MaxStringRunes),
		Success:   e.Success,
		Error:     truncate(e.Error, s.opts.MaxStringRunes),
	}
	s.records = append(s.records, rec)
	if s.opts.Mirror != nil {
		if err := s.opts.Mirror.Append(s.sessionID, rec); err != nil {
			log.Printf("[AUDIT] Mirror append failed for session %s seq %d: %v", s.sessionID, rec.Seq, err)
		}
	}
	return cloneRecord(rec)
}

// Len is the number of records so far.
func (s *Sink) Len() int { return len(s.records) }

// SessionLog returns a deep copy of the records in order.
func (s *Sink) SessionLog() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// cloneRecord copies the payload maps. Stored payloads only hold the shapes
// redactValue produces.
func cloneRecord(r Record) Record {
	r.Input = cloneMap(r.Input)
	r.Output = cloneMap(r.Output)
	return r
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
