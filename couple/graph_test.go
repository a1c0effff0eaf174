package couple

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

type member struct {
	id      uuid.UUID
	speed   float64
	impulse float64
}

func (m *member) ID() uuid.UUID                { return m.id }
func (m *member) TrackSpeed() float64          { return m.speed }
func (m *member) ApplyTrackImpulse(dv float64) { m.impulse += dv }

func lookupOf(ms ...*member) func(uuid.UUID) (Member, bool) {
	return func(id uuid.UUID) (Member, bool) {
		for _, m := range ms {
			if m.id == id {
				return m, true
			}
		}
		return nil, false
	}
}

func TestPairUnordered(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := NewGraph()
	if !g.Add(a, b) {
		t.Fatal("first add ignored")
	}
	if g.Add(b, a) {
		t.Fatal("reversed add registered a second pair")
	}
	if g.Len() != 1 {
		t.Fatalf("len = %d", g.Len())
	}
	if !g.Has(b, a) {
		t.Fatal("Has(b, a) = false")
	}
	if !g.Remove(b, a) {
		t.Fatal("reversed remove missed")
	}
	if g.Len() != 0 || g.Has(a, b) {
		t.Fatal("pair still registered")
	}
	if g.Remove(a, b) {
		t.Fatal("removing an absent pair reported a change")
	}
	if g.Add(a, a) {
		t.Fatal("self pair registered")
	}
}

func TestImpulse(t *testing.T) {
	ia, ib := Impulse(10, 0)
	if ia != -5 || ib != 5 {
		t.Fatalf("Impulse(10, 0) = %v, %v", ia, ib)
	}
	ia, ib = Impulse(-4, -4)
	if ia != 0 || ib != 0 {
		t.Fatalf("Impulse(-4, -4) = %v, %v", ia, ib)
	}
}

func TestSolve(t *testing.T) {
	a := &member{id: uuid.New(), speed: 10}
	b := &member{id: uuid.New(), speed: 0}
	c := &member{id: uuid.New(), speed: 2}
	g := NewGraph()
	g.Add(a.id, b.id)
	g.Add(c.id, b.id)
	g.Solve(lookupOf(a, b, c))
	got := []float64{a.impulse, b.impulse, c.impulse}
	// b sees both pairs against its speed before either impulse
	want := []float64{-5, 5 + 1, -1}
	if !cmp.Equal(got, want) {
		t.Fatalf("impulses (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestSolveDropsMissing(t *testing.T) {
	a := &member{id: uuid.New(), speed: 10}
	g := NewGraph()
	g.Add(a.id, uuid.New())
	g.Solve(lookupOf(a))
	if g.Len() != 0 {
		t.Fatal("pair with a missing train kept")
	}
	if a.impulse != 0 {
		t.Fatalf("impulse %v applied against a missing train", a.impulse)
	}
}

func TestRemoveAll(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	g := NewGraph()
	g.Add(a, b)
	g.Add(a, c)
	g.Add(b, c)
	if n := g.RemoveAll(a); n != 2 {
		t.Fatalf("removed %d", n)
	}
	if !cmp.Equal(g.Pairs(), []Pair{NewPair(b, c)}) {
		t.Fatalf("pairs %v", g.Pairs())
	}
}
