// Package proximity finds the bodies near a train, rescanning at a throttled interval.
package proximity

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/dassen/body"
)

// World answers spatial queries. Only collidable bodies are returned.
type World interface {
	Query(center mgl64.Vec3, radius float64) []body.Body
}

type Conf struct {
	// Interval is the minimum time between two scans. The candidate list is reused in between.
	Interval time.Duration `json:"interval"`
	// Radius around the leading edge that is scanned.
	Radius float64 `json:"radius"`
	// MaxClosingSpeed is the fastest two bodies are expected to approach each other.
	MaxClosingSpeed float64 `json:"max-closing-speed"`
	// CellSize of the world grid.
	CellSize float64 `json:"cell-size"`
}

func DefaultConf() Conf {
	return Conf{
		Interval:        250 * time.Millisecond,
		Radius:          120,
		MaxClosingSpeed: 240,
		CellSize:        40,
	}
}

// Validate rejects intervals long enough for a body to cross the whole radius between two scans.
func (c Conf) Validate() error {
	if c.Interval <= 0 || c.Radius <= 0 || c.CellSize <= 0 {
		return fmt.Errorf("interval, radius and cell size must be positive")
	}
	if travel := c.Interval.Seconds() * c.MaxClosingSpeed; travel > c.Radius {
		return fmt.Errorf("a body closing at %.1f travels %.1f between scans, more than the radius %.1f", c.MaxClosingSpeed, travel, c.Radius)
	}
	return nil
}

// Tracker keeps one train's candidate list.
type Tracker struct {
	conf       Conf
	own        map[uuid.UUID]struct{}
	scanned    bool
	last       time.Duration
	candidates []body.Body
}

// NewTracker excludes own (the train's own bodies) from every scan.
func NewTracker(conf Conf, own []uuid.UUID) *Tracker {
	t := &Tracker{conf: conf, own: map[uuid.UUID]struct{}{}}
	for _, id := range own {
		t.Exclude(id)
	}
	return t
}

// Due reports whether a scan at now would run.
func (t *Tracker) Due(now time.Duration) bool {
	return !t.scanned || now-t.last >= t.conf.Interval
}

// Update rescans around center if the interval has passed.
func (t *Tracker) Update(now time.Duration, center mgl64.Vec3, w World) (rescanned bool) {
	if !t.Due(now) {
		return false
	}
	t.scanned = true
	t.last = now
	found := w.Query(center, t.conf.Radius)
	t.candidates = t.candidates[:0]
	for _, b := range found {
		if _, ok := t.own[b.ID()]; ok {
			continue
		}
		t.candidates = append(t.candidates, b)
	}
	zap.S().Debugf("proximity: %d candidates of %d bodies near %v", len(t.candidates), len(found), center)
	return true
}

// Candidates from the latest scan. Their collision may have been disabled since.
func (t *Tracker) Candidates() []body.Body {
	if t == nil {
		return nil
	}
	return t.candidates
}

// Forget drops a body from the list, e.g. when it is disposed between scans.
func (t *Tracker) Forget(id uuid.UUID) {
	if t == nil {
		return
	}
	t.candidates = slices.DeleteFunc(t.candidates, func(b body.Body) bool { return b.ID() == id })
}

// Exclude adds an id to the train's own bodies.
func (t *Tracker) Exclude(id uuid.UUID) {
	t.own[id] = struct{}{}
	t.Forget(id)
}

// Invalidate forces a scan on the next Update.
func (t *Tracker) Invalidate() {
	t.scanned = false
}
