package train

import (
	_ "embed"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/consist"
	"nyiyui.ca/hato/dassen/derail"
	"nyiyui.ca/hato/dassen/path"
	"nyiyui.ca/hato/dassen/persist"
	"nyiyui.ca/hato/dassen/physics"
)

//go:embed test.json
var testJSON []byte

var shunter = uuid.MustParse("2fe1cbb0-b584-45f5-96ec-a9bfd55b1e91")

const dt = 1.0 / 60

func forms(t *testing.T) consist.Data {
	var d consist.Data
	if err := json.Unmarshal(testJSON, &d); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	return d
}

func newTrain(t *testing.T, nodes []mgl64.Vec3, offset, speed float64) (*Train, *path.Polyline) {
	p, err := path.NewPolyline(nodes, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetOffset(offset); err != nil {
		t.Fatal(err)
	}
	p.SetSpeed(speed)
	tr, err := New(DefaultConf(), Spec{Form: shunter, Mission: 3}, forms(t).Forms[shunter], p, RigidFactory)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return tr, p
}

// tick runs the train's passes in simulator order, without other trains.
func tick(tr *Train, i int) time.Duration {
	now := time.Duration(i) * time.Second / 60
	tr.AdvanceTransition(now)
	tr.Integrate(dt, physics.TickInput{Now: now})
	tr.Articulate(dt)
	tr.CommitDerail(now)
	for _, b := range tr.OwnBodies() {
		if s, ok := b.(body.Stepper); ok {
			s.Step(dt)
		}
	}
	return now
}

func straight() []mgl64.Vec3 {
	return []mgl64.Vec3{{0, 0, 0}, {1000, 0, 0}}
}

func TestNewPlacesSegments(t *testing.T) {
	tr, _ := newTrain(t, straight(), 100, 0)
	var xs []float64
	for _, s := range tr.Segments() {
		xs = append(xs, s.Body().Position().X())
		if _, ok := s.Pose().(OnRails); !ok {
			t.Fatalf("%s not on rails", s)
		}
		if !s.Bound().Collision() || s.Visible().Collision() {
			t.Fatalf("%s: collisions bound %t visible %t", s, s.Bound().Collision(), s.Visible().Collision())
		}
	}
	if diff := cmp.Diff([]float64{100, 88, 77}, xs); diff != "" {
		t.Fatalf("positions (-want +got):\n%s", diff)
	}
	if tr.LeadingEdge().X() != 106 {
		t.Fatalf("leading edge %v", tr.LeadingEdge())
	}
	if tr.Mass() != 6000 {
		t.Fatalf("mass %f", tr.Mass())
	}
}

func TestLeadingEdgeFollowsMotion(t *testing.T) {
	tr, _ := newTrain(t, straight(), 100, -5)
	if got := tr.LeadingEdge().X(); math.Abs(got-72) > 1e-9 {
		t.Fatalf("reversing edge at %v, want the back of the last car", got)
	}
}

func TestStationaryStays(t *testing.T) {
	tr, p := newTrain(t, straight(), 100, 0)
	for i := 0; i < 100; i++ {
		tick(tr, i)
	}
	if tr.Speed() != 0 || p.Offset() != 100 {
		t.Fatalf("speed %v offset %v", tr.Speed(), p.Offset())
	}
}

func TestMoves(t *testing.T) {
	tr, p := newTrain(t, straight(), 100, 10)
	for i := 0; i < 60; i++ {
		tick(tr, i)
	}
	if p.Offset() < 109 || p.Offset() > 110 {
		t.Fatalf("offset %v after a second at 10", p.Offset())
	}
	v := tr.Velocity()
	if math.Abs(v.X()-tr.Speed()) > 1e-9 || tr.Derailed() {
		t.Fatalf("velocity %v speed %v", v, tr.Speed())
	}
}

func TestSharpTurnDerails(t *testing.T) {
	corner := []mgl64.Vec3{{0, 0, 0}, {100, 0, 0}, {100, 100, 0}}
	tr, _ := newTrain(t, corner, 95, 20)
	derailedAt := -1
	for i := 0; i < 30; i++ {
		tick(tr, i)
		for _, s := range tr.Segments() {
			if s.Bound().Collision() && s.Visible().Collision() {
				t.Fatalf("tick %d: %s has both collisions enabled", i, s)
			}
		}
		if tr.Derailed() && derailedAt == -1 {
			derailedAt = i
			if tr.Monitor().Cause() != derail.CauseTurn {
				t.Fatalf("cause %s", tr.Monitor().Cause())
			}
			for _, s := range tr.Segments() {
				if s.Bound().Collision() || s.Visible().Collision() {
					t.Fatalf("commit tick: %s still collides", s)
				}
				if _, ok := s.Pose().(Derailed); !ok {
					t.Fatalf("%s not handed off", s)
				}
			}
		}
		if derailedAt != -1 && i == derailedAt+1 {
			for _, s := range tr.Segments() {
				if s.Bound().Collision() || !s.Visible().Collision() {
					t.Fatalf("release tick: %s bound %t visible %t", s, s.Bound().Collision(), s.Visible().Collision())
				}
			}
		}
	}
	if derailedAt == -1 {
		t.Fatal("never derailed")
	}
	if _, err := tr.Follower(); !errors.Is(err, ErrDerailed) {
		t.Fatalf("follower after derail: %v", err)
	}
	if err := tr.WarpToNode(0); !errors.Is(err, ErrDerailed) {
		t.Fatalf("warp after derail: %v", err)
	}
	if err := tr.MoveToNode(1); !errors.Is(err, ErrDerailed) {
		t.Fatalf("move after derail: %v", err)
	}
	if tr.Derail(time.Hour, derail.CauseManual) {
		t.Fatal("derailed twice")
	}
}

func TestGradeChangeDerails(t *testing.T) {
	// lead on a 45° ramp, second segment still on the flat
	steep := []mgl64.Vec3{{0, 0, 0}, {200, 0, 0}, {300, 0, 100}}
	tr, _ := newTrain(t, steep, 205, 0)
	if a := angleBetween(tr.Segments()[0].Bound().Up(), tr.Segments()[1].Bound().Up()); math.Abs(a-math.Pi/4) > 1e-9 {
		t.Fatalf("chassis angle %f", a)
	}
	tick(tr, 0)
	if !tr.Derailed() {
		t.Fatal("45° between lead and second segment did not derail")
	}
	if tr.Monitor().Cause() != derail.CauseChassis {
		t.Fatalf("cause %s", tr.Monitor().Cause())
	}
}

func TestGentleGradeStays(t *testing.T) {
	gentle := []mgl64.Vec3{{0, 0, 0}, {200, 0, 0}, {300, 0, 30}}
	tr, _ := newTrain(t, gentle, 205, 0)
	for i := 0; i < 10; i++ {
		tick(tr, i)
	}
	if tr.Derailed() {
		t.Fatalf("derailed on a %.1f° grade change: %s", 180/math.Pi*math.Atan(0.3), tr.Monitor().Cause())
	}
}

func TestPathDerailVetoStopsAtBuffer(t *testing.T) {
	tr, p := newTrain(t, straight(), 995, 10)
	tr.Monitor().OnRequest().Add("test", func(r derail.Request) bool { return r.Cause != derail.CausePath })
	for i := 0; i < 60; i++ {
		tick(tr, i)
	}
	if tr.Derailed() {
		t.Fatal("vetoed derail committed")
	}
	if tr.Speed() != 0 || p.Offset() != 1000 {
		t.Fatalf("speed %v offset %v", tr.Speed(), p.Offset())
	}
}

func TestPathDerail(t *testing.T) {
	tr, _ := newTrain(t, straight(), 995, 10)
	for i := 0; i < 60; i++ {
		tick(tr, i)
	}
	if !tr.Derailed() || tr.Monitor().Cause() != derail.CausePath {
		t.Fatalf("derailed %t cause %s", tr.Derailed(), tr.Monitor().Cause())
	}
	// free bodies keep moving
	if x := tr.Segments()[0].Body().Position().X(); x <= 1000 {
		t.Fatalf("lead at %v", x)
	}
}

func TestManualDerailAndStabilize(t *testing.T) {
	tr, _ := newTrain(t, straight(), 500, 10)
	tick(tr, 0)
	if !tr.Derail(time.Second/60, derail.CauseManual) {
		t.Fatal("Derail had no effect")
	}
	for i := 2; i < 40; i++ {
		tick(tr, i)
	}
	if tr.Monitor().State() != derail.StateSettled {
		t.Fatalf("state %s", tr.Monitor().State())
	}
	segs := tr.Segments()
	for i := 1; i < len(segs); i++ {
		d := segs[i-1].Body().Position().Sub(segs[i].Body().Position()).Len()
		want := segs[i].behind - segs[i-1].behind
		if d > want+1e-6 {
			t.Fatalf("segments %d and %d drifted apart: %v > %v", i-1, i, d, want)
		}
	}
	if tr.Speed() <= 0 {
		t.Fatalf("bookkeeping speed %v", tr.Speed())
	}
}

func TestNilTrain(t *testing.T) {
	var tr *Train
	if tr.Derailed() || tr.Speed() != 0 || tr.TrackSpeed() != 0 {
		t.Fatal("nil train should read as stationary and on rails")
	}
	if tr.Direction() || tr.Candidates() != nil {
		t.Fatal("nil train should have defaults")
	}
	tr.Forget([]uuid.UUID{uuid.New()})
}

func TestDispose(t *testing.T) {
	tr, _ := newTrain(t, straight(), 100, 5)
	tr.Dispose()
	for _, b := range tr.OwnBodies() {
		if b.Collision() {
			t.Fatalf("%v still collides", b)
		}
	}
	if err := tr.WarpToNode(0); !errors.Is(err, ErrDisposed) {
		t.Fatalf("warp after dispose: %v", err)
	}
	tr.Dispose()
}

func TestTags(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	p, _ := path.NewPolyline(straight(), true)
	tr, err := New(DefaultConf(), Spec{Form: shunter, Mission: 3, Segments: ids}, forms(t).Forms[shunter], p, RigidFactory)
	if err != nil {
		t.Fatal(err)
	}
	tags := tr.Tags()
	if len(tags) != 3 {
		t.Fatalf("%d segments", len(tags))
	}
	for i, s := range tags {
		if s.Segment != ids[i] || s.Index != i || s.Train != tr.ID() {
			t.Fatalf("segment %d: %+v", i, s)
		}
		want := map[string]persist.Value{
			persist.TagDirection: persist.Bool(true),
			persist.TagCarriages: persist.Int(3),
			persist.TagDerailed:  persist.Bool(false),
			persist.TagMission:   persist.Int(3),
		}
		if diff := cmp.Diff(want, s.Tags); diff != "" {
			t.Fatalf("segment %d (-want +got):\n%s", i, diff)
		}
	}
	if _, err := New(DefaultConf(), Spec{Segments: ids[:1]}, forms(t).Forms[shunter], p, RigidFactory); err == nil {
		t.Fatal("mismatched segment ids accepted")
	}
}
