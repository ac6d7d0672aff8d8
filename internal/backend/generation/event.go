package generation

import (
	"context"
	"encoding/json"
)

type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseEvaluating Phase = "evaluating"
)

// Result identifies the winning image of one slot.
type Result struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// Event is either a progress update or, when Done is set, the terminal event
// carrying the winners.
type Event struct {
	Phase     Phase
	Completed int
	Total     int
	Done      bool
	Results   []Result
}

func progressEvent(phase Phase, completed, total int) Event {
	return Event{Phase: phase, Completed: completed, Total: total}
}

func terminalEvent(results []Result) Event {
	if results == nil {
		results = []Result{}
	}
	return Event{Done: true, Results: results}
}

type progressPayload struct {
	Phase     Phase `json:"phase"`
	Completed int   `json:"completed"`
	Total     int   `json:"total"`
}

type terminalPayload struct {
	Done    bool     `json:"done"`
	Results []Result `json:"results"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Done {
		results := e.Results
		if results == nil {
			results = []Result{}
		}
		return json.Marshal(terminalPayload{Done: true, Results: results})
	}
	return json.Marshal(progressPayload{Phase: e.Phase, Completed: e.Completed, Total: e.Total})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Phase     Phase    `json:"phase"`
		Completed int      `json:"completed"`
		Total     int      `json:"total"`
		Done      bool     `json:"done"`
		Results   []Result `json:"results"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{Phase: raw.Phase, Completed: raw.Completed, Total: raw.Total, Done: raw.Done, Results: raw.Results}
	return nil
}

// Emitter delivers events to the single client of a run, in call order.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

type EmitterFunc func(ctx context.Context, event Event) error

func (f EmitterFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) error { return nil })
