package sim

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nyiyui.ca/hato/dassen/config"
	"nyiyui.ca/hato/dassen/derail"
	"nyiyui.ca/hato/dassen/path"
	"nyiyui.ca/hato/dassen/persist"
	"nyiyui.ca/hato/dassen/train"
)

// Build makes a simulator for a scenario. saved (may be nil) restores the segment ids, direction,
// mission and derailment of trains with the same id; a derailed train derails again on the first tick.
func Build(c config.Config, saved map[uuid.UUID][]persist.Segment, factory train.Factory) (*Simulator, error) {
	s := New(Conf{Train: c.Train, Collide: c.Collide, LockBrake: c.LockBrake})
	for i, ts := range c.Trains {
		form, ok := c.Cars.Forms[ts.Form]
		if !ok {
			return nil, fmt.Errorf("train %d: unknown form %s", i, ts.Form)
		}
		spec := train.Spec{ID: ts.ID, Form: ts.Form, Mission: ts.Mission}
		direction := ts.Direction
		var wasDerailed bool
		if segs, ok := saved[ts.ID]; ok {
			r, err := restore(segs, len(form.Cars))
			if err != nil {
				zap.S().Warnw("ignoring saved train",
					"train", ts.ID,
					"err", err)
			} else {
				spec.Segments = r.segments
				spec.Mission = r.mission
				direction = r.direction
				wasDerailed = r.derailed
				zap.S().Infof("sim: restored train %s (derailed %t)", ts.ID, r.derailed)
			}
		}
		p, err := path.NewPolyline(ts.Path, direction)
		if err != nil {
			return nil, fmt.Errorf("train %d: %w", i, err)
		}
		if err := p.SetOffset(ts.Offset); err != nil {
			return nil, fmt.Errorf("train %d: %w", i, err)
		}
		p.SetSpeed(ts.Speed)
		t, err := train.New(c.Train, spec, form, p, factory)
		if err != nil {
			return nil, fmt.Errorf("train %d: %w", i, err)
		}
		s.Add(t)
		s.SetControl(t.ID(), Control{Drive: ts.Drive, Brake: ts.Brake})
		if wasDerailed {
			t.RequestDerail(derail.CauseRestore, 0)
		}
	}
	for _, o := range c.Obstacles {
		b := factory(o.Mass, o.Extent)
		b.SetPose(o.Position, mgl64.QuatIdent())
		b.SetVelocity(o.Velocity)
		b.SetCollision(true)
		s.AddObstacle(b)
	}
	return s, nil
}

type restored struct {
	segments  []uuid.UUID
	direction bool
	derailed  bool
	mission   int
}

var errMismatch = errors.New("saved train does not match its formation")

func restore(segs []persist.Segment, cars int) (restored, error) {
	if len(segs) != cars {
		return restored{}, fmt.Errorf("%d saved segments for %d cars: %w", len(segs), cars, errMismatch)
	}
	var r restored
	for i, seg := range segs {
		if seg.Index != i {
			return restored{}, fmt.Errorf("segment %d missing: %w", i, errMismatch)
		}
		if n := seg.Tags[persist.TagCarriages].AsInt(cars); n != cars {
			return restored{}, fmt.Errorf("segment %d: %d carriages saved for %d cars: %w", i, n, cars, errMismatch)
		}
		r.segments = append(r.segments, seg.Segment)
		// every segment carries the train's tags; any of them derailed means the train was
		r.derailed = r.derailed || seg.Tags[persist.TagDerailed].AsBool(false)
	}
	r.direction = segs[0].Tags[persist.TagDirection].AsBool(true)
	r.mission = segs[0].Tags[persist.TagMission].AsInt(0)
	return r, nil
}

// Save stores every train's tags and deletes those of trains removed since the last Save.
func (s *Simulator) Save(store *persist.Store) error {
	for len(s.removed) > 0 {
		id := s.removed[0]
		if _, back := s.byID[id]; !back {
			if err := store.Delete(id); err != nil {
				return fmt.Errorf("delete removed train %s: %w", id, err)
			}
		}
		s.removed = s.removed[1:]
	}
	var segs []persist.Segment
	for _, t := range s.trains {
		segs = append(segs, t.Tags()...)
	}
	if err := store.Save(segs); err != nil {
		return fmt.Errorf("save %d trains: %w", len(s.trains), err)
	}
	return nil
}
