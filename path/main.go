// Package path moves a train along an ordered sequence of nodes.
package path

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/notify"
)

var ErrNodeRange = errors.New("node index out of range")

// DerailEvent is fired when the followed body leaves the path geometry.
type DerailEvent struct {
	Node   int
	Offset float64
}

// Follower is the path-following collaborator consumed by a train.
// Speeds are signed along the train's own forward axis; TrackSpeed maps them onto the path.
type Follower interface {
	Current() int
	Next() int
	Previous() int
	MoveToNode(i int) error
	WarpToNode(i int) error

	SetSpeed(speed float64)
	Speed() float64
	TrackSpeed() float64
	// Direction is the train's fixed direction flag: true if forward is towards increasing node indices.
	Direction() bool
	Advance(dt float64)

	// Pose returns the pose of a point behind metres behind the lead point, facing the train's forward axis.
	// ok is false if that point is off the path; the pose is then clamped to the nearest end.
	Pose(behind float64) (pos mgl64.Vec3, rot mgl64.Quat, ok bool)
	// Pitch is the lead point's slope along the train's forward axis, in radians.
	Pitch() float64
	OnDerail() *notify.Hooks[DerailEvent]
}

// Polyline follows straight segments between nodes.
type Polyline struct {
	nodes     []mgl64.Vec3
	cum       []float64
	direction bool

	offset    float64
	speed     float64
	target    int
	hasTarget bool
	left      bool

	derail notify.Hooks[DerailEvent]
}

var _ Follower = (*Polyline)(nil)

// NewPolyline makes a follower at the first node. direction is the train's fixed direction flag:
// true means the train's forward axis points towards increasing node indices.
func NewPolyline(nodes []mgl64.Vec3, direction bool) (*Polyline, error) {
	if len(nodes) < 2 {
		return nil, fmt.Errorf("path needs at least 2 nodes, got %d", len(nodes))
	}
	p := &Polyline{
		nodes:     nodes,
		cum:       make([]float64, len(nodes)),
		direction: direction,
	}
	for i := 1; i < len(nodes); i++ {
		l := nodes[i].Sub(nodes[i-1]).Len()
		if l == 0 {
			return nil, fmt.Errorf("nodes %d and %d coincide", i-1, i)
		}
		p.cum[i] = p.cum[i-1] + l
	}
	return p, nil
}

func (p *Polyline) String() string {
	return fmt.Sprintf("polyline(offset %.2f/%.2f speed %.2f dir %t)", p.offset, p.Length(), p.speed, p.direction)
}

func (p *Polyline) Length() float64 { return p.cum[len(p.cum)-1] }
func (p *Polyline) Offset() float64 { return p.offset }

// SetOffset places the lead point offset metres from the first node.
func (p *Polyline) SetOffset(offset float64) error {
	if offset < 0 || offset > p.Length() {
		return fmt.Errorf("offset %f outside [0, %f]", offset, p.Length())
	}
	p.offset = offset
	p.left = false
	return nil
}

func (p *Polyline) sign() float64 {
	if p.direction {
		return 1
	}
	return -1
}

// segmentAt returns i such that cum[i] <= offset <= cum[i+1].
func (p *Polyline) segmentAt(offset float64) int {
	for i := 0; i < len(p.cum)-2; i++ {
		if offset < p.cum[i+1] {
			return i
		}
	}
	return len(p.cum) - 2
}

func (p *Polyline) Current() int {
	i := p.segmentAt(p.offset)
	if p.direction {
		return i
	}
	return i + 1
}

func (p *Polyline) Next() int {
	n := p.Current() + int(p.sign())
	if n < 0 || n >= len(p.nodes) {
		return -1
	}
	return n
}

func (p *Polyline) Previous() int {
	n := p.Current() - int(p.sign())
	if n < 0 || n >= len(p.nodes) {
		return -1
	}
	return n
}

func (p *Polyline) checkNode(i int) error {
	if i < 0 || i >= len(p.nodes) {
		return fmt.Errorf("node %d of %d: %w", i, len(p.nodes), ErrNodeRange)
	}
	return nil
}

// MoveToNode makes Advance stop at node i instead of passing it.
func (p *Polyline) MoveToNode(i int) error {
	if err := p.checkNode(i); err != nil {
		return err
	}
	p.target = i
	p.hasTarget = true
	return nil
}

// WarpToNode puts the lead point on node i immediately.
func (p *Polyline) WarpToNode(i int) error {
	if err := p.checkNode(i); err != nil {
		return err
	}
	p.offset = p.cum[i]
	p.hasTarget = false
	p.left = false
	return nil
}

func (p *Polyline) SetSpeed(speed float64) { p.speed = speed }
func (p *Polyline) Speed() float64         { return p.speed }
func (p *Polyline) Direction() bool        { return p.direction }

func (p *Polyline) TrackSpeed() float64 {
	return p.sign() * p.speed
}

func (p *Polyline) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	prev := p.offset
	next := prev + p.TrackSpeed()*dt
	if p.hasTarget {
		t := p.cum[p.target]
		if (prev-t)*(next-t) <= 0 && prev != next {
			next = t
			p.hasTarget = false
		}
	}
	switch {
	case next < 0:
		p.offset = 0
	case next > p.Length():
		p.offset = p.Length()
	default:
		p.offset = next
		p.left = false
		return
	}
	if p.left {
		return
	}
	p.left = true
	p.derail.Fire(DerailEvent{Node: p.Current(), Offset: next})
}

// Left reports whether the lead point is held at an end it tried to run past.
// Moving back onto the path clears it.
func (p *Polyline) Left() bool { return p.left }

func (p *Polyline) OnDerail() *notify.Hooks[DerailEvent] { return &p.derail }

func (p *Polyline) Pose(behind float64) (pos mgl64.Vec3, rot mgl64.Quat, ok bool) {
	o := p.offset - p.sign()*behind
	ok = true
	if o < 0 {
		o, ok = 0, false
	} else if o > p.Length() {
		o, ok = p.Length(), false
	}
	i := p.segmentAt(o)
	a, b := p.nodes[i], p.nodes[i+1]
	seg := b.Sub(a)
	frac := (o - p.cum[i]) / seg.Len()
	pos = a.Add(seg.Mul(frac))
	fwd := seg.Normalize().Mul(p.sign())
	return pos, Heading(fwd), ok
}

func (p *Polyline) Pitch() float64 {
	_, rot, _ := p.Pose(0)
	f := rot.Rotate(body.LocalForward)
	return math.Asin(mgl64.Clamp(f.Z(), -1, 1))
}

// Heading returns a roll-free rotation whose forward axis points along fwd.
func Heading(fwd mgl64.Vec3) mgl64.Quat {
	if fwd.Len() == 0 {
		return mgl64.QuatIdent()
	}
	fwd = fwd.Normalize()
	yaw := math.Atan2(fwd.Y(), fwd.X())
	pitch := -math.Asin(mgl64.Clamp(fwd.Z(), -1, 1))
	return mgl64.QuatRotate(yaw, body.WorldUp).Mul(mgl64.QuatRotate(pitch, mgl64.Vec3{0, 1, 0})).Normalize()
}
