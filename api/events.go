package api

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Stage names the part of the pipeline an event comes from
type Stage string

const (
	StageToken  Stage = "token"
	StageSearch Stage = "search"
)

// Outcome is the result of a single strategy attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDeadEnd Outcome = "dead_end"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Event describes one token or search attempt
type Event struct {
	CallID     string
	Platform   string
	Stage      Stage
	Strategy   string
	Outcome    Outcome
	StatusCode int
	Results    int
	Body       string
	Err        error
}

// EventSink receives attempt events. Implementations must be safe for concurrent use.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to a logrus logger
type LogSink struct {
	log *logrus.Logger
}

func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(e Event) {
	entry := s.log.WithFields(logrus.Fields{
		"call_id":  e.CallID,
		"platform": e.Platform,
		"stage":    e.Stage,
		"strategy": e.Strategy,
		"outcome":  e.Outcome,
	})
	if e.StatusCode != 0 {
		entry = entry.WithField("status_code", e.StatusCode)
	}

	switch e.Outcome {
	case OutcomeSuccess:
		entry.WithField("results", e.Results).Info("Strategy succeeded")
	case OutcomeDeadEnd:
		entry.Debug("Strategy returned no results")
	case OutcomeSkipped:
		entry.Debug("Strategy skipped")
	default:
		if e.Body != "" {
			entry = entry.WithField("response_body", e.Body)
		}
		entry.WithError(e.Err).Warn("Strategy failed")
	}
}

// MultiSink fans events out to several sinks
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(e)
		}
	}
}

// EventRecorder keeps every event in memory
type EventRecorder struct {
	mutex  sync.Mutex
	events []Event
}

func (r *EventRecorder) Emit(e Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *EventRecorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Strategies returns the strategy names recorded for a stage, in order
func (r *EventRecorder) Strategies(stage Stage) []string {
	var names []string
	for _, e := range r.Events() {
		if e.Stage == stage {
			names = append(names, e.Strategy)
		}
	}
	return names
}
