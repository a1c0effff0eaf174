package train

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

type Snapshot struct {
	ID           uuid.UUID         `json:"id"`
	Form         uuid.UUID         `json:"form"`
	Mission      int               `json:"mission"`
	Direction    bool              `json:"direction"`
	Speed        float64           `json:"speed"`
	TrackSpeed   float64           `json:"track-speed"`
	AverageSpeed float64           `json:"average-speed"`
	Trend        float64           `json:"trend"`
	WheelSpeed   float64           `json:"wheel-speed"`
	SlipRatio    float64           `json:"slip-ratio"`
	Derailed     bool              `json:"derailed"`
	State        string            `json:"state"`
	Cause        string            `json:"cause,omitempty"`
	Segments     []SegmentSnapshot `json:"segments"`
}

type SegmentSnapshot struct {
	ID       uuid.UUID  `json:"id"`
	Position mgl64.Vec3 `json:"position"`
	Forward  mgl64.Vec3 `json:"forward"`
	Velocity mgl64.Vec3 `json:"velocity"`
	Free     bool       `json:"free"`
	Angle    float64    `json:"angle"`
	Lean     float64    `json:"lean"`
}

func (t *Train) Snapshot() Snapshot {
	s := Snapshot{
		ID:           t.id,
		Form:         t.formID,
		Mission:      t.mission,
		Direction:    t.Direction(),
		Speed:        t.integ.Speed(),
		TrackSpeed:   t.integ.TrackSpeed(),
		AverageSpeed: t.integ.AverageSpeed(),
		Trend:        t.integ.Trend(),
		WheelSpeed:   t.integ.WheelSpeed(),
		SlipRatio:    t.integ.SlipRatio(),
		Derailed:     t.Derailed(),
		State:        t.monitor.State().String(),
		Segments:     make([]SegmentSnapshot, len(t.segs)),
	}
	if s.Derailed {
		s.Cause = t.monitor.Cause().String()
	}
	for i, seg := range t.segs {
		b := seg.Body()
		_, free := seg.pose.(Derailed)
		s.Segments[i] = SegmentSnapshot{
			ID:       seg.id,
			Position: b.Position(),
			Forward:  b.Forward(),
			Velocity: b.Velocity(),
			Free:     free,
			Angle:    t.art.Angle(i),
			Lean:     t.art.Lean(i),
		}
	}
	return s
}
