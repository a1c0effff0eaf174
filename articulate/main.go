// Package articulate computes each segment's turn angle, visual lean and shake.
//
// The turn angle doubles as a derailment trigger: the same curve gives a larger angle at higher speed.
package articulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"nyiyui.ca/hato/dassen/body"
)

type Conf struct {
	// RefFrame is the frame time (seconds) the angle scale is tuned at.
	RefFrame   float64 `json:"ref-frame"`
	SpeedScale float64 `json:"speed-scale"`
	// MaxAngle clamps the computed angle (radians).
	MaxAngle float64 `json:"max-angle"`

	LeanScale float64 `json:"lean-scale"`
	MaxLean   float64 `json:"max-lean"`
	LeanRate  float64 `json:"lean-rate"`

	JitterBase     float64 `json:"jitter-base"`
	JitterPerSpeed float64 `json:"jitter-per-speed"`
	JitterMax      float64 `json:"jitter-max"`
	// JitterRate* tune how fast the jitter vector chases a new random target.
	JitterRateBase     float64 `json:"jitter-rate-base"`
	JitterRatePerSpeed float64 `json:"jitter-rate-per-speed"`
	JitterRateMax      float64 `json:"jitter-rate-max"`

	Seed uint64 `json:"seed"`
}

func DefaultConf() Conf {
	return Conf{
		RefFrame:   1.0 / 60,
		SpeedScale: 5,
		MaxAngle:   math.Pi / 2,

		LeanScale: 0.5,
		MaxLean:   mgl64.DegToRad(8),
		LeanRate:  6,

		JitterBase:     0,
		JitterPerSpeed: 0.0008,
		JitterMax:      0.03,

		JitterRateBase:     2,
		JitterRatePerSpeed: 0.5,
		JitterRateMax:      20,

		Seed: 0x6a6f6a6f,
	}
}

func (c Conf) Validate() error {
	if c.RefFrame <= 0 || c.SpeedScale < 0 || c.MaxAngle <= 0 {
		return fmt.Errorf("invalid angle tuning (ref-frame %f, speed-scale %f, max-angle %f)", c.RefFrame, c.SpeedScale, c.MaxAngle)
	}
	if c.JitterMax < 0 || c.JitterRateMax < 0 || c.MaxLean < 0 {
		return fmt.Errorf("negative jitter or lean limit")
	}
	return nil
}

type segment struct {
	prev   mgl64.Vec3
	has    bool
	angle  float64
	lean   float64
	jitter mgl64.Vec3
}

// Articulator holds per-segment state for one train. Jitter comes from a seeded generator so runs repeat.
type Articulator struct {
	conf Conf
	rng  *rand.Rand
	segs []segment
}

func New(conf Conf, segments int, seed uint64) *Articulator {
	return &Articulator{
		conf: conf,
		rng:  rand.New(rand.NewPCG(conf.Seed, seed)),
		segs: make([]segment, segments),
	}
}

// TurnAngle is the signed angle from prev to cur. Left turns (about +Z) are positive.
func TurnAngle(prev, cur mgl64.Vec3) float64 {
	c := prev.Cross(cur)
	a := math.Atan2(c.Len(), prev.Dot(cur))
	if c.Dot(body.WorldUp) < 0 {
		a = -a
	}
	if math.IsNaN(a) {
		return 0
	}
	return a
}

// Scale turns a per-tick heading change into the computed angle:
// frame-normalized, multiplied by speed, squared with sign, and clamped.
func (a *Articulator) Scale(angle, dt, speed float64) float64 {
	c := a.conf
	if dt <= 0 {
		return 0
	}
	x := angle * (c.RefFrame / dt) * math.Abs(speed) * c.SpeedScale
	y := math.Copysign(x*x, x)
	if math.IsNaN(y) {
		return 0
	}
	return mgl64.Clamp(y, -c.MaxAngle, c.MaxAngle)
}

// Step takes every segment's current forward vector and returns the index and magnitude
// of the largest computed angle. Segments over threshold keep their previous lean.
func (a *Articulator) Step(dt, speed float64, forwards []mgl64.Vec3, threshold float64) (worst int, peak float64) {
	if len(forwards) != len(a.segs) {
		panic(fmt.Sprintf("articulate: %d forwards for %d segments", len(forwards), len(a.segs)))
	}
	if dt <= 0 {
		return 0, 0
	}
	c := a.conf
	v := math.Abs(speed)
	amp := mgl64.Clamp(c.JitterBase+c.JitterPerSpeed*v, 0, c.JitterMax)
	rate := mgl64.Clamp(c.JitterRateBase+c.JitterRatePerSpeed*v, 0, c.JitterRateMax)
	jAlpha := 1 - math.Exp(-rate*dt)
	lAlpha := 1 - math.Exp(-c.LeanRate*dt)
	for i := range a.segs {
		s := &a.segs[i]
		f := forwards[i]
		if f.Len() == 0 {
			continue
		}
		f = f.Normalize()
		if s.has {
			s.angle = a.Scale(TurnAngle(s.prev, f), dt, speed)
		}
		s.prev, s.has = f, true
		if math.Abs(s.angle) > peak {
			worst, peak = i, math.Abs(s.angle)
		}
		if math.Abs(s.angle) <= threshold {
			target := mgl64.Clamp(s.angle*c.LeanScale, -c.MaxLean, c.MaxLean)
			s.lean += (target - s.lean) * lAlpha
		}
		jt := mgl64.Vec3{a.uniform(amp), a.uniform(amp), a.uniform(amp / 2)}
		s.jitter = s.jitter.Add(jt.Sub(s.jitter).Mul(jAlpha))
	}
	return worst, peak
}

func (a *Articulator) uniform(amp float64) float64 {
	return (a.rng.Float64()*2 - 1) * amp
}

// Reset forgets every previous heading, e.g. after a warp.
func (a *Articulator) Reset() {
	for i := range a.segs {
		a.segs[i].has = false
		a.segs[i].angle = 0
	}
}

func (a *Articulator) Angle(i int) float64 { return a.segs[i].angle }
func (a *Articulator) Lean(i int) float64  { return a.segs[i].lean }

// Transform is the attachment of segment i's visible body to its path-bound body.
func (a *Articulator) Transform(i int) body.Transform {
	s := a.segs[i]
	return body.Transform{
		Offset:   s.jitter,
		Rotation: mgl64.QuatRotate(s.lean, body.LocalForward),
	}
}
