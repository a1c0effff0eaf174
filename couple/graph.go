// Package couple keeps the process-wide set of trains that are pushing each other and equalizes their speeds.
package couple

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Member is a train as seen by the solver.
type Member interface {
	ID() uuid.UUID
	TrackSpeed() float64
	ApplyTrackImpulse(dv float64)
}

// Pair is an unordered pair of trains. A is always the smaller id.
type Pair struct {
	A uuid.UUID `json:"a"`
	B uuid.UUID `json:"b"`
}

// NewPair canonicalizes (a, b) so that (a, b) and (b, a) are the same Pair.
func NewPair(a, b uuid.UUID) Pair {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%s %s)", p.A, p.B)
}

func (p Pair) Has(id uuid.UUID) bool {
	return p.A == id || p.B == id
}

func (p Pair) less(q Pair) bool {
	if c := bytes.Compare(p.A[:], q.A[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(p.B[:], q.B[:]) < 0
}

// Graph is owned by the simulator and shared by every train's resolver.
// Only the tick goroutine may use it.
type Graph struct {
	pairs map[Pair]struct{}
}

func NewGraph() *Graph {
	return &Graph{pairs: map[Pair]struct{}{}}
}

// Add registers a pair. Adding a present pair is a no-op, and a train never pairs with itself.
func (g *Graph) Add(a, b uuid.UUID) bool {
	if a == b {
		return false
	}
	p := NewPair(a, b)
	if _, ok := g.pairs[p]; ok {
		return false
	}
	g.pairs[p] = struct{}{}
	zap.S().Debugf("couple: registered %s", p)
	return true
}

// Remove unregisters a pair in either order. Removing an absent pair is a no-op.
func (g *Graph) Remove(a, b uuid.UUID) bool {
	p := NewPair(a, b)
	if _, ok := g.pairs[p]; !ok {
		return false
	}
	delete(g.pairs, p)
	zap.S().Debugf("couple: unregistered %s", p)
	return true
}

// RemoveAll unregisters every pair involving id.
func (g *Graph) RemoveAll(id uuid.UUID) int {
	n := 0
	for p := range g.pairs {
		if p.Has(id) {
			delete(g.pairs, p)
			n++
		}
	}
	if n > 0 {
		zap.S().Debugf("couple: unregistered %d pairs of %s", n, id)
	}
	return n
}

func (g *Graph) Has(a, b uuid.UUID) bool {
	_, ok := g.pairs[NewPair(a, b)]
	return ok
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.pairs)
}

// Pairs in a stable order.
func (g *Graph) Pairs() []Pair {
	if g == nil {
		return nil
	}
	ps := maps.Keys(g.pairs)
	slices.SortFunc(ps, func(a, b Pair) int {
		if a.less(b) {
			return -1
		}
		if b.less(a) {
			return 1
		}
		return 0
	})
	return ps
}

// Impulse is the equal-mass elastic response of two track speeds: each moves to their mean.
func Impulse(a, b float64) (ia, ib float64) {
	avg := (a + b) / 2
	return -(a - avg), -(b - avg)
}

// Solve applies one impulse per registered pair. Speeds are read before any impulse is applied,
// so the result does not depend on pair order.
// Pairs naming a train lookup cannot find are dropped.
func (g *Graph) Solve(lookup func(uuid.UUID) (Member, bool)) {
	if g.Len() == 0 {
		return
	}
	pairs := g.Pairs()
	speeds := map[uuid.UUID]float64{}
	members := map[uuid.UUID]Member{}
	for _, p := range pairs {
		ma, okA := lookup(p.A)
		mb, okB := lookup(p.B)
		if !okA || !okB {
			zap.S().Warnf("couple: dropping %s, train gone", p)
			delete(g.pairs, p)
			continue
		}
		members[p.A], members[p.B] = ma, mb
		speeds[p.A], speeds[p.B] = ma.TrackSpeed(), mb.TrackSpeed()
	}
	for _, p := range pairs {
		if _, ok := g.pairs[p]; !ok {
			continue
		}
		ia, ib := Impulse(speeds[p.A], speeds[p.B])
		members[p.A].ApplyTrackImpulse(ia)
		members[p.B].ApplyTrackImpulse(ib)
	}
}
