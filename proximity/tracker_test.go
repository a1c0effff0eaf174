package proximity

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/body"
)

func place(b *body.Rigid, x, y float64) *body.Rigid {
	b.SetPose(mgl64.Vec3{x, y, 0}, mgl64.QuatIdent())
	b.SetCollision(true)
	return b
}

func ids(bs []body.Body) map[uuid.UUID]bool {
	m := map[uuid.UUID]bool{}
	for _, b := range bs {
		m[b.ID()] = true
	}
	return m
}

func TestConfValidate(t *testing.T) {
	if err := DefaultConf().Validate(); err != nil {
		t.Fatalf("default: %s", err)
	}
	c := DefaultConf()
	c.Interval = time.Second
	if err := c.Validate(); err == nil {
		t.Fatal("1 s at 240 over a 120 radius accepted")
	}
}

func TestGridQuery(t *testing.T) {
	g := NewGrid(40)
	near := place(body.NewRigid(1, 5), 100, 0)
	edge := place(body.NewRigid(1, 10), 128, 0)
	far := place(body.NewRigid(1, 5), 300, 0)
	off := place(body.NewRigid(1, 5), 10, 10)
	off.SetCollision(false)
	for _, b := range []*body.Rigid{near, edge, far, off} {
		g.Insert(b)
	}
	if g.Len() != 3 {
		t.Fatalf("len = %d", g.Len())
	}
	got := ids(g.Query(mgl64.Vec3{}, 120))
	if !got[near.ID()] || !got[edge.ID()] || got[far.ID()] || got[off.ID()] {
		t.Fatalf("query = %v", got)
	}
	g.Clear()
	if len(g.Query(mgl64.Vec3{}, 120)) != 0 {
		t.Fatal("cleared grid still answers")
	}
}

func TestGridNegativeCells(t *testing.T) {
	g := NewGrid(40)
	b := place(body.NewRigid(1, 1), -45, -85)
	g.Insert(b)
	if got := g.Query(mgl64.Vec3{-40, -80, 0}, 10); len(got) != 1 {
		t.Fatalf("query = %v", got)
	}
}

func TestTrackerThrottle(t *testing.T) {
	own := place(body.NewRigid(1, 5), 0, 0)
	other := place(body.NewRigid(1, 5), 50, 0)
	g := NewGrid(40)
	g.Insert(own)
	g.Insert(other)
	tr := NewTracker(DefaultConf(), []uuid.UUID{own.ID()})
	if !tr.Update(0, mgl64.Vec3{}, g) {
		t.Fatal("first update skipped")
	}
	got := ids(tr.Candidates())
	if len(got) != 1 || !got[other.ID()] {
		t.Fatalf("candidates = %v", got)
	}

	late := place(body.NewRigid(1, 5), 60, 0)
	g.Insert(late)
	now := time.Duration(0)
	for i := 0; i < 14; i++ {
		now += time.Second / 60
		if tr.Update(now, mgl64.Vec3{}, g) {
			t.Fatalf("rescanned after %s", now)
		}
	}
	if len(tr.Candidates()) != 1 {
		t.Fatal("stale list changed between scans")
	}
	now += 2 * time.Second / 60
	if !tr.Update(now, mgl64.Vec3{}, g) {
		t.Fatalf("no rescan at %s", now)
	}
	if len(tr.Candidates()) != 2 {
		t.Fatalf("candidates = %v", ids(tr.Candidates()))
	}

	tr.Exclude(late.ID())
	tr.Invalidate()
	tr.Update(now, mgl64.Vec3{}, g)
	if got := ids(tr.Candidates()); got[late.ID()] {
		t.Fatal("excluded body returned")
	}
}
