// Package sim runs every train through the passes of a tick in a fixed global order.
package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/collide"
	"nyiyui.ca/hato/dassen/couple"
	"nyiyui.ca/hato/dassen/notify"
	"nyiyui.ca/hato/dassen/physics"
	"nyiyui.ca/hato/dassen/proximity"
	"nyiyui.ca/hato/dassen/train"
)

type Conf struct {
	Train   train.Conf
	Collide collide.Conf
	// LockBrake is the brake force at and above which wheels lock.
	LockBrake float64
}

// Control is what the traction collaborator asks of a train this tick.
type Control struct {
	// Drive force per unit mass, signed along the train's forward axis.
	Drive float64
	// Brake force per unit mass. It only ever opposes motion.
	Brake float64
}

type Simulator struct {
	conf Conf
	now  time.Duration
	tick int

	trains    []*train.Train
	byID      map[uuid.UUID]*train.Train
	owners    map[uuid.UUID]*train.Train
	obstacles []body.Body
	controls  map[uuid.UUID]Control

	// removed trains whose tags are still to be deleted by the next Save
	removed []uuid.UUID

	graph    *couple.Graph
	grid     *proximity.Grid
	resolver *collide.Resolver

	events    notify.Queue[Event]
	onEvent   notify.Hooks[Event]
	snapshots *notify.Multiplexer[Snapshot]
}

func New(conf Conf) *Simulator {
	graph := couple.NewGraph()
	return &Simulator{
		conf:      conf,
		byID:      map[uuid.UUID]*train.Train{},
		owners:    map[uuid.UUID]*train.Train{},
		controls:  map[uuid.UUID]Control{},
		graph:     graph,
		grid:      proximity.NewGrid(conf.Train.Proximity.CellSize),
		resolver:  collide.NewResolver(conf.Collide, graph),
		snapshots: notify.NewMultiplexer[Snapshot]("sim snapshots"),
	}
}

func (s *Simulator) String() string {
	return fmt.Sprintf("sim(tick %d at %s, %d trains, %d pairs)", s.tick, s.now, len(s.trains), s.graph.Len())
}

func (s *Simulator) Now() time.Duration   { return s.now }
func (s *Simulator) Tick() int            { return s.tick }
func (s *Simulator) Graph() *couple.Graph { return s.graph }

// OnEvent returns the observers of drained events. Their return values are ignored.
func (s *Simulator) OnEvent() *notify.Hooks[Event] { return &s.onEvent }

// Snapshots publishes a Snapshot after every tick.
func (s *Simulator) Snapshots() *notify.Multiplexer[Snapshot] { return s.snapshots }

func (s *Simulator) Add(t *train.Train) {
	if _, ok := s.byID[t.ID()]; ok {
		panic(fmt.Sprintf("train %s added twice", t.ID()))
	}
	s.trains = append(s.trains, t)
	s.byID[t.ID()] = t
	for _, b := range t.OwnBodies() {
		s.owners[b.ID()] = t
	}
}

// AddObstacle adds a body that is not part of any train.
func (s *Simulator) AddObstacle(b body.Body) {
	s.obstacles = append(s.obstacles, b)
}

// Remove disposes a train and forgets it.
func (s *Simulator) Remove(id uuid.UUID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	t.Dispose()
	s.graph.RemoveAll(id)
	delete(s.byID, id)
	delete(s.controls, id)
	var gone []uuid.UUID
	for _, b := range t.OwnBodies() {
		delete(s.owners, b.ID())
		gone = append(gone, b.ID())
	}
	s.trains = slices.DeleteFunc(s.trains, func(u *train.Train) bool { return u == t })
	for _, u := range s.trains {
		u.Forget(gone)
	}
	s.removed = append(s.removed, id)
	s.events.Push(Event{Kind: EventRemoved, Train: id, At: s.now})
	return true
}

func (s *Simulator) Train(id uuid.UUID) (*train.Train, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// Trains in the order they were added.
func (s *Simulator) Trains() []*train.Train {
	return s.trains
}

func (s *Simulator) SetControl(id uuid.UUID, c Control) {
	s.controls[id] = c
}

func (s *Simulator) Control(id uuid.UUID) Control {
	return s.controls[id]
}

func (s *Simulator) owner(id uuid.UUID) (collide.Train, bool) {
	t, ok := s.owners[id]
	if !ok {
		return nil, false
	}
	return t, true
}

func (s *Simulator) member(id uuid.UUID) (couple.Member, bool) {
	t, ok := s.byID[id]
	if !ok || t.Derailed() {
		return nil, false
	}
	return t, true
}

// traction applies t's control and returns this tick's input. A fresh input every tick
// means the slip and lock flags never outlive the tick they were set for.
func (s *Simulator) traction(t *train.Train, dt float64) physics.TickInput {
	c := s.controls[t.ID()]
	in := physics.TickInput{
		Now:          s.now,
		WheelSlip:    math.Abs(c.Drive) > t.Wheel().Adhesion,
		LockedWheels: c.Brake >= s.conf.LockBrake,
	}
	if c.Drive != 0 {
		t.ApplyDriveForce(c.Drive)
	}
	if v := t.Speed(); c.Brake > 0 && v != 0 && dt > 0 {
		// brakes stop a train, they never reverse it
		t.ApplyResistanceForce(-math.Copysign(math.Min(c.Brake, math.Abs(v)/dt), v))
	}
	return in
}

// Step runs one tick of dt seconds.
func (s *Simulator) Step(dt float64) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		zap.S().Warnf("sim: ignoring tick of %f s", dt)
		dt = 0
	}
	now := s.now

	// second tick of derailments committed last tick, and stabilization
	for _, t := range s.trains {
		t.AdvanceTransition(now)
	}

	for _, t := range s.trains {
		t.Integrate(dt, s.traction(t, dt))
	}

	s.grid.Clear()
	for _, t := range s.trains {
		for _, b := range t.Bodies() {
			s.grid.Insert(b)
		}
	}
	for _, b := range s.obstacles {
		s.grid.Insert(b)
	}
	before := s.graph.Pairs()
	for _, t := range s.trains {
		for _, c := range t.Collide(now, dt, s.grid, s.resolver, s.owner) {
			if c.Class == collide.ClassDerail {
				s.events.Push(Event{Kind: EventContact, Train: t.ID(), Other: c.OtherTrain, Body: c.Other.ID(), Value: c.Energy, Class: c.Class, At: now})
			}
		}
	}
	s.diffPairs(before, now)

	s.graph.Solve(s.member)

	for _, t := range s.trains {
		t.Articulate(dt)
	}

	for _, t := range s.trains {
		ok, req, vetoed := t.CommitDerail(now)
		for _, v := range vetoed {
			s.events.Push(Event{Kind: EventVetoed, Train: t.ID(), Cause: v.Cause, Value: v.Value, At: now})
		}
		if ok {
			s.graph.RemoveAll(t.ID())
			s.events.Push(Event{Kind: EventDerailed, Train: t.ID(), Cause: req.Cause, Value: req.Value, At: now})
		}
	}
	s.events.Drain(func(e Event) {
		zap.S().Debugf("sim: %s", e)
		s.onEvent.Fire(e)
	})

	for _, t := range s.trains {
		if !t.Derailed() {
			continue
		}
		for _, b := range t.OwnBodies() {
			step(b, dt)
		}
	}
	for _, b := range s.obstacles {
		step(b, dt)
	}

	s.now += time.Duration(dt * float64(time.Second))
	s.tick++
	if s.snapshots.Len() > 0 {
		s.snapshots.Send(s.Snapshot())
	}
}

func step(b body.Body, dt float64) {
	if b.Parent() != nil {
		return
	}
	if st, ok := b.(body.Stepper); ok {
		st.Step(dt)
	}
}

func (s *Simulator) diffPairs(before []couple.Pair, now time.Duration) {
	after := s.graph.Pairs()
	for _, p := range after {
		if !slices.Contains(before, p) {
			s.events.Push(Event{Kind: EventCoupled, Train: p.A, Other: p.B, At: now})
		}
	}
	for _, p := range before {
		if !slices.Contains(after, p) {
			s.events.Push(Event{Kind: EventUncoupled, Train: p.A, Other: p.B, At: now})
		}
	}
}

// Run steps every dt until n ticks have run (n <= 0 runs forever) or stop is closed.
// Ticks are paced against wall time only if pace is set.
func (s *Simulator) Run(n int, dt float64, pace bool, stop <-chan struct{}) {
	var ticker *time.Ticker
	if pace {
		ticker = time.NewTicker(time.Duration(dt * float64(time.Second)))
		defer ticker.Stop()
	}
	for i := 0; n <= 0 || i < n; i++ {
		select {
		case <-stop:
			return
		default:
		}
		s.Step(dt)
		if ticker != nil {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}
}
