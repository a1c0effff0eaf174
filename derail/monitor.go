// Package derail decides when a train leaves its path and drives the handoff to free bodies.
package derail

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nyiyui.ca/hato/dassen/notify"
)

type Cause int

const (
	CauseManual Cause = iota
	// CauseChassis is the lead segment's pitch/roll relative to the next segment exceeding the angle threshold.
	CauseChassis
	// CauseTurn is a speed-scaled heading change exceeding the angle threshold.
	CauseTurn
	// CauseImpact is a contact whose kinetic energy exceeds the energy threshold.
	CauseImpact
	// CausePath is the path follower reporting that the train left the path geometry.
	CausePath
	// CauseRestore re-derails a train that was derailed before a restart.
	CauseRestore
)

func (c Cause) String() string {
	switch c {
	case CauseManual:
		return "manual"
	case CauseChassis:
		return "chassis"
	case CauseTurn:
		return "turn"
	case CauseImpact:
		return "impact"
	case CausePath:
		return "path"
	case CauseRestore:
		return "restore"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

type Request struct {
	Train uuid.UUID
	Cause Cause
	// Value is the measurement that crossed the threshold (angle in radians, or energy).
	Value float64
}

func (r Request) String() string {
	return fmt.Sprintf("derail %s (%s %.3f)", r.Train, r.Cause, r.Value)
}

type State int

const (
	StateOnRails State = iota
	// StateDetaching is the first tick after commit: path-bound collision is off and visible bodies are detached.
	StateDetaching
	// StateStabilizing keeps segments linked and moving forward for the stabilization window.
	StateStabilizing
	StateSettled
)

func (s State) String() string {
	return [...]string{"on-rails", "detaching", "stabilizing", "settled"}[s]
}

type Conf struct {
	// AngleThreshold in radians, shared by the chassis and turn checks.
	AngleThreshold float64 `json:"angle-threshold"`
	// EnergyThreshold is the contact kinetic energy (mass × relative speed) above which a train derails.
	EnergyThreshold float64 `json:"energy-threshold"`
	// StabilizeWindow is how long after the handoff the segments are kept linked and moving forward.
	StabilizeWindow time.Duration `json:"stabilize-window"`
}

func DefaultConf() Conf {
	return Conf{
		AngleThreshold:  mgl64.DegToRad(30),
		EnergyThreshold: 150000,
		StabilizeWindow: 250 * time.Millisecond,
	}
}

func (c Conf) Validate() error {
	if c.AngleThreshold <= 0 || c.EnergyThreshold <= 0 {
		return fmt.Errorf("thresholds must be positive (angle %f, energy %f)", c.AngleThreshold, c.EnergyThreshold)
	}
	if c.StabilizeWindow < 0 {
		return fmt.Errorf("negative stabilize window")
	}
	return nil
}

// Handoff is the physical side of the transition, implemented by the train.
type Handoff interface {
	// Detach disables every path-bound body's collision, then detaches every visible body.
	Detach()
	// Release enables every visible body's collision. It runs one tick after Detach.
	Release()
	// Stabilize pushes every segment along its forward axis and links consecutive segments.
	Stabilize()
}

// Monitor is a one-way OnRails → derailed state machine.
type Monitor struct {
	conf    Conf
	train   uuid.UUID
	state   State
	at      time.Duration
	pending []Request
	cause   Cause
	veto    notify.Hooks[Request]
}

func New(conf Conf, train uuid.UUID) *Monitor {
	return &Monitor{conf: conf, train: train}
}

func (m *Monitor) String() string {
	if m == nil {
		return "monitor(nil)"
	}
	return fmt.Sprintf("monitor(%s %s)", m.train, m.state)
}

// Derailed is true from the commit onwards and never becomes false again.
func (m *Monitor) Derailed() bool {
	return m != nil && m.state != StateOnRails
}

func (m *Monitor) State() State {
	if m == nil {
		return StateOnRails
	}
	return m.state
}

// Cause of the committed derailment.
func (m *Monitor) Cause() Cause {
	if m == nil {
		return CauseManual
	}
	return m.cause
}

// DerailedAt is the simulation time of the commit.
func (m *Monitor) DerailedAt() time.Duration {
	if m == nil {
		return 0
	}
	return m.at
}

// OnRequest returns the veto hooks consulted before a derailment is committed.
// Returning false from a hook cancels that request; once committed nothing can cancel it.
func (m *Monitor) OnRequest() *notify.Hooks[Request] {
	return &m.veto
}

// Request queues a derailment for the next Commit.
// Requests while already derailed are no-ops.
func (m *Monitor) Request(cause Cause, value float64) {
	if m == nil || m.Derailed() {
		return
	}
	req := Request{Train: m.train, Cause: cause, Value: value}
	m.pending = append(m.pending, req)
	zap.S().Debugf("derail: requested %s", req)
}

func (m *Monitor) Pending() bool {
	return m != nil && len(m.pending) > 0
}

// CheckAngle requests a derailment if angle exceeds the angle threshold.
func (m *Monitor) CheckAngle(cause Cause, angle float64) bool {
	if m == nil {
		return false
	}
	if angle <= m.conf.AngleThreshold && angle >= -m.conf.AngleThreshold {
		return false
	}
	m.Request(cause, angle)
	return true
}

func (m *Monitor) Conf() Conf {
	return m.conf
}

// Commit runs the veto hooks on the pending requests in arrival order and starts the handoff
// for the first one that isn't vetoed. Requests after that one are dropped.
// It reports whether the train derailed now, the request that did it, and the requests vetoed on the way.
func (m *Monitor) Commit(now time.Duration, h Handoff) (committed bool, req Request, vetoed []Request) {
	if m == nil || len(m.pending) == 0 {
		return false, Request{}, nil
	}
	reqs := m.pending
	m.pending = nil
	if m.Derailed() {
		return false, Request{}, nil
	}
	for _, r := range reqs {
		if m.veto.Fire(r) {
			m.commit(now, r, h)
			return true, r, vetoed
		}
		zap.S().Infof("derail: vetoed %s", r)
		vetoed = append(vetoed, r)
	}
	return false, Request{}, vetoed
}

func (m *Monitor) commit(now time.Duration, req Request, h Handoff) {
	m.state = StateDetaching
	m.at = now
	m.cause = req.Cause
	zap.S().Infof("derail: committed %s at %s", req, now)
	h.Detach()
}

// Advance moves an in-progress handoff along. It must run once per tick before anything else touches the train.
func (m *Monitor) Advance(now time.Duration, h Handoff) {
	switch m.state {
	case StateDetaching:
		h.Release()
		m.state = StateStabilizing
		h.Stabilize()
	case StateStabilizing:
		if now-m.at > m.conf.StabilizeWindow {
			m.state = StateSettled
			zap.S().Debugf("derail: %s settled", m.train)
			return
		}
		h.Stabilize()
	}
}
