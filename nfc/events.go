package nfc

import (
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes the stages of an encounter.
type EventKind uint8

const (
	EventEncounterStarted EventKind = iota + 1
	EventTechnologyRead
	EventEncounterComplete
)

func (k EventKind) String() string {
	switch k {
	case EventEncounterStarted:
		return "encounter_started"
	case EventTechnologyRead:
		return "technology_read"
	case EventEncounterComplete:
		return "encounter_complete"
	default:
		return "unknown"
	}
}

// ReadEvent describes one step of an encounter. Technology, Result and
// Duration are set for EventTechnologyRead; Report is set for
// EventEncounterComplete.
type ReadEvent struct {
	Kind         EventKind
	EncounterID  uuid.UUID
	TagID        TagID
	Source       string
	Technologies TechnologySet
	Technology   Technology
	Result       ReadResult
	Duration     time.Duration
	Time         time.Time
	Report       *TagReport
}

// EventSink receives read events. The Orchestrator calls HandleReadEvent from
// its worker goroutine, so implementations must not block for long.
type EventSink interface {
	HandleReadEvent(ev ReadEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev ReadEvent)

func (f EventSinkFunc) HandleReadEvent(ev ReadEvent) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) HandleReadEvent(ev ReadEvent) {
	for _, s := range m {
		if s != nil {
			s.HandleReadEvent(ev)
		}
	}
}

type nopSink struct{}

func (nopSink) HandleReadEvent(ReadEvent) {}
