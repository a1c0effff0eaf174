package train

import (
	"fmt"

	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/consist"
)

// Pose says which of a segment's two bodies is authoritative for its world pose.
// A segment starts OnRails and can only move to Derailed.
type Pose interface {
	Body() body.Body
	pose()
}

// OnRails is placed by the path follower each tick.
type OnRails struct {
	Bound body.Body
}

func (p OnRails) Body() body.Body { return p.Bound }
func (OnRails) pose()             {}

// Derailed is simulated as a free body.
type Derailed struct {
	Free body.Body
}

func (p Derailed) Body() body.Body { return p.Free }
func (Derailed) pose()             {}

// Segment is one car of a train.
type Segment struct {
	id    uuid.UUID
	index int
	car   consist.Car
	// behind is the distance from the lead segment's centre along the path.
	behind float64

	bound   body.Body
	visible body.Body
	pose    Pose
}

func (s *Segment) String() string {
	return fmt.Sprintf("segment(%d %s %T)", s.index, s.id, s.pose)
}

func (s *Segment) ID() uuid.UUID    { return s.id }
func (s *Segment) Index() int       { return s.index }
func (s *Segment) Car() consist.Car { return s.car }
func (s *Segment) Pose() Pose       { return s.pose }

// Body is the authoritative body.
func (s *Segment) Body() body.Body { return s.pose.Body() }

// Bound is the path-bound body. It stops being authoritative once the train derails.
func (s *Segment) Bound() body.Body   { return s.bound }
func (s *Segment) Visible() body.Body { return s.visible }

func (s *Segment) derail() {
	if _, ok := s.pose.(Derailed); ok {
		panic(fmt.Sprintf("%s derailed twice", s))
	}
	s.pose = Derailed{Free: s.visible}
}
