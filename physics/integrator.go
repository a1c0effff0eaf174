// Package physics integrates a train's longitudinal speed.
//
// The force model is empirical and tuned at a 60 Hz reference frame rate rather than physically exact.
// All forces are per unit mass.
package physics

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"nyiyui.ca/hato/dassen/consist"
)

type Conf struct {
	// Drag is the coefficient of the speed² resistance.
	Drag float64 `json:"drag"`
	// Friction is the coefficient of the |speed| resistance.
	Friction float64 `json:"friction"`
	// Inertia is how much of the applied drive force is eaten before it reaches the wheels.
	Inertia float64 `json:"inertia"`
	// Gravity scales the slope term sin(pitch).
	Gravity float64 `json:"gravity"`
	// ResistanceScale is the fixed multiplier applied to the summed resistance.
	ResistanceScale float64 `json:"resistance-scale"`
	// MaxVisualSpeed clamps the wheel speed target when not slipping.
	MaxVisualSpeed float64 `json:"max-visual-speed"`
	// AverageWindow is how far back AverageSpeed and Trend look.
	AverageWindow time.Duration `json:"average-window"`
}

func DefaultConf() Conf {
	return Conf{
		Drag:            0.0005,
		Friction:        0.02,
		Inertia:         0.1,
		Gravity:         9.81,
		ResistanceScale: 1,
		MaxVisualSpeed:  45,
		AverageWindow:   time.Second,
	}
}

func (c Conf) Validate() error {
	if c.Drag < 0 || c.Friction < 0 || c.ResistanceScale < 0 {
		return fmt.Errorf("negative resistance coefficient (drag %f, friction %f, scale %f)", c.Drag, c.Friction, c.ResistanceScale)
	}
	if c.Inertia < 0 || c.Inertia > 1 {
		return fmt.Errorf("inertia %f outside [0, 1]", c.Inertia)
	}
	if c.AverageWindow <= 0 {
		return fmt.Errorf("average window must be positive")
	}
	return nil
}

// TickInput carries the per-tick flags set by the traction collaborator.
// It is passed by value into Tick, so nothing outlives the tick it was made for.
type TickInput struct {
	// Now is the simulation time of this tick.
	Now time.Duration
	// WheelSlip asks the wheel model to spin up to a slipping target.
	WheelSlip bool
	// LockedWheels models a brake or hydraulic lock: no drive is applied and the wheels stop.
	LockedWheels bool
	// Pitch is the path slope along the train's forward axis in radians.
	Pitch float64
}

// maxSamples bounds the speed window when TickInput.Now doesn't advance.
const maxSamples = 1024

type sample struct {
	at    time.Duration
	speed float64
}

// Integrator owns a train's signed speed along its own forward axis.
type Integrator struct {
	conf      Conf
	wheel     consist.Wheel
	direction bool

	speed     float64
	prevSpeed float64
	accel     float64

	drive      float64
	resistance float64
	impulse    float64

	wheelSpeed float64
	slipRatio  float64

	window []sample

	derailed  bool
	freeDelta float64
}

func New(conf Conf, wheel consist.Wheel, direction bool) *Integrator {
	return &Integrator{
		conf:      conf,
		wheel:     wheel,
		direction: direction,
	}
}

func (i *Integrator) String() string {
	if i == nil {
		return "integrator(nil)"
	}
	return fmt.Sprintf("integrator(v%.3f w%.3f slip%.3f derailed%t)", i.speed, i.wheelSpeed, i.slipRatio, i.derailed)
}

func (i *Integrator) ApplyDriveForce(f float64) {
	i.drive += finite(f)
}

func (i *Integrator) ApplyResistanceForce(f float64) {
	i.resistance += finite(f)
}

// ApplyTrackImpulse changes the track-relative speed by dv on the next tick.
func (i *Integrator) ApplyTrackImpulse(dv float64) {
	dv = finite(dv)
	if !i.direction {
		dv = -dv
	}
	i.impulse += dv
}

func (i *Integrator) Tick(dt float64, in TickInput) {
	dt = finite(dt)
	if dt < 0 {
		dt = 0
	}
	c := i.conf

	// Frame-normalized delta, not true acceleration.
	i.accel = finite((i.speed - i.prevSpeed) * dt)
	i.prevSpeed = i.speed

	drive := i.drive
	if in.LockedWheels {
		drive = 0
	}
	s := i.speed
	drag := c.Drag * s * math.Abs(s)
	friction := c.Friction * s
	dissipation := -(drag + friction) * c.ResistanceScale * dt
	if math.Abs(dissipation) > math.Abs(s) {
		// drag and friction stop a train, they never reverse it
		dissipation = -s
	}
	inertia := -c.Inertia * drive
	slope := -c.Gravity * math.Sin(finite(in.Pitch))
	resistance := dissipation + (inertia+slope)*c.ResistanceScale*dt + i.resistance*dt

	delta := finite(drive*dt + resistance + i.impulse)
	if i.derailed {
		i.freeDelta += delta
	} else {
		next := finite(s + delta)
		if in.LockedWheels && s != 0 && math.Signbit(next) != math.Signbit(s) {
			// locked wheels hold a train once it stops
			next = 0
		}
		i.speed = next
	}
	i.drive, i.resistance, i.impulse = 0, 0, 0

	i.tickWheels(dt, in)
	i.record(in.Now)
}

func (i *Integrator) tickWheels(dt float64, in TickInput) {
	w := i.wheel
	v := math.Abs(i.speed)
	target := math.Min(v, i.conf.MaxVisualSpeed)
	rate := w.Rate
	switch {
	case in.LockedWheels:
		target = 0
		rate = w.LockRate
	case in.WheelSlip:
		target = math.Max(w.SlipSpeed, v*w.SlipFactor)
	}
	alpha := 1 - math.Exp(-rate*dt)
	i.wheelSpeed = finite(i.wheelSpeed + (target-i.wheelSpeed)*alpha)
	slip := ratio(i.wheelSpeed-v, math.Max(i.wheelSpeed, v))
	i.slipRatio = finite(i.slipRatio + (slip-i.slipRatio)*alpha)
}

func (i *Integrator) record(now time.Duration) {
	i.window = append(i.window, sample{at: now, speed: i.speed})
	cut := 0
	for cut < len(i.window) && now-i.window[cut].at > i.conf.AverageWindow {
		cut++
	}
	if n := len(i.window) - cut; n > maxSamples {
		cut += n - maxSamples
	}
	if cut > 0 {
		i.window = append(i.window[:0], i.window[cut:]...)
	}
}

// SetSpeed overwrites the speed, e.g. when restoring or when a free body's motion is fed back after derailing.
func (i *Integrator) SetSpeed(s float64) {
	i.speed = finite(s)
}

// SetDerailed switches Tick to bookkeeping: accumulated forces are handed out through TakeFreeBodyDelta
// instead of changing the speed.
func (i *Integrator) SetDerailed() {
	i.derailed = true
}

// TakeFreeBodyDelta returns and clears the speed change accumulated while derailed.
func (i *Integrator) TakeFreeBodyDelta() float64 {
	d := i.freeDelta
	i.freeDelta = 0
	return d
}

func (i *Integrator) Speed() float64 {
	if i == nil {
		return 0
	}
	return i.speed
}

func (i *Integrator) AbsSpeed() float64 {
	return math.Abs(i.Speed())
}

func (i *Integrator) TrackSpeed() float64 {
	if i == nil {
		return 0
	}
	if i.direction {
		return i.speed
	}
	return -i.speed
}

func (i *Integrator) Direction() bool {
	return i != nil && i.direction
}

// Acceleration is the frame-normalized speed delta of the last tick.
func (i *Integrator) Acceleration() float64 {
	if i == nil {
		return 0
	}
	return i.accel
}

func (i *Integrator) WheelSpeed() float64 {
	if i == nil {
		return 0
	}
	return i.wheelSpeed
}

// SlipRatio is positive while the wheels spin faster than the train moves and negative while they slide.
func (i *Integrator) SlipRatio() float64 {
	if i == nil {
		return 0
	}
	return i.slipRatio
}

// AverageSpeed over the last AverageWindow.
func (i *Integrator) AverageSpeed() float64 {
	if i == nil {
		return 0
	}
	if len(i.window) == 0 {
		return i.speed
	}
	var sum float64
	for _, s := range i.window {
		sum += s.speed
	}
	return sum / float64(len(i.window))
}

// Trend is the slope (m/s²) of a straight line fitted through the speeds of the last AverageWindow.
func (i *Integrator) Trend() float64 {
	if i == nil || len(i.window) < 2 {
		return 0
	}
	first, last := i.window[0].at, i.window[len(i.window)-1].at
	if first == last {
		return 0
	}
	xs := make([]float64, len(i.window))
	ys := make([]float64, len(i.window))
	for j, s := range i.window {
		xs[j] = (s.at - first).Seconds()
		ys[j] = s.speed
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if !isFinite(beta) {
		zap.S().Debugf("physics: degenerate speed trend over %d samples", len(xs))
		return 0
	}
	return beta
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// finite coerces NaN and ±Inf to 0.
func finite(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	return x
}

// ratio is a/b, or 0 when that isn't a finite number.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return finite(a / b)
}
