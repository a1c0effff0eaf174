package sim

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/collide"
	"nyiyui.ca/hato/dassen/couple"
	"nyiyui.ca/hato/dassen/derail"
	"nyiyui.ca/hato/dassen/train"
)

type EventKind int

const (
	EventDerailed EventKind = iota
	// EventVetoed is a derailment request cancelled by a hook before commit.
	EventVetoed
	EventCoupled
	EventUncoupled
	// EventContact is a contact energetic enough to derail.
	EventContact
	EventRemoved
)

func (k EventKind) String() string {
	return [...]string{"derailed", "vetoed", "coupled", "uncoupled", "contact", "removed"}[k]
}

// Event is queued during a tick and drained once at its end.
type Event struct {
	Kind  EventKind
	Train uuid.UUID
	// Other is the other train of a pair or contact, if any.
	Other uuid.UUID
	// Body is the body contacted.
	Body  uuid.UUID
	Cause derail.Cause
	Class collide.Class
	Value float64
	At    time.Duration
}

func (e Event) String() string {
	switch e.Kind {
	case EventDerailed, EventVetoed:
		return fmt.Sprintf("%s %s (%s %.3f) at %s", e.Train, e.Kind, e.Cause, e.Value, e.At)
	case EventCoupled, EventUncoupled:
		return fmt.Sprintf("%s %s %s at %s", e.Train, e.Kind, e.Other, e.At)
	case EventContact:
		return fmt.Sprintf("%s %s %s (%s %.0f) at %s", e.Train, e.Kind, e.Body, e.Class, e.Value, e.At)
	default:
		return fmt.Sprintf("%s %s at %s", e.Train, e.Kind, e.At)
	}
}

type Snapshot struct {
	Tick   int              `json:"tick"`
	Time   time.Duration    `json:"time"`
	Trains []train.Snapshot `json:"trains"`
	Pairs  []couple.Pair    `json:"pairs"`
}

func (s *Simulator) Snapshot() Snapshot {
	ss := Snapshot{
		Tick:   s.tick,
		Time:   s.now,
		Trains: make([]train.Snapshot, len(s.trains)),
		Pairs:  s.graph.Pairs(),
	}
	for i, t := range s.trains {
		ss.Trains[i] = t.Snapshot()
	}
	return ss
}
