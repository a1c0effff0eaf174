// Package train is the aggregate of a train's segments and the components acting on them.
package train

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/dassen/articulate"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/collide"
	"nyiyui.ca/hato/dassen/consist"
	"nyiyui.ca/hato/dassen/derail"
	"nyiyui.ca/hato/dassen/path"
	"nyiyui.ca/hato/dassen/persist"
	"nyiyui.ca/hato/dassen/physics"
	"nyiyui.ca/hato/dassen/proximity"
)

var (
	// ErrDerailed is returned by operations that only make sense on rails.
	ErrDerailed = errors.New("train is derailed")
	ErrDisposed = errors.New("train is disposed")
)

type Conf struct {
	Physics    physics.Conf    `json:"physics"`
	Derail     derail.Conf     `json:"derail"`
	Proximity  proximity.Conf  `json:"proximity"`
	Articulate articulate.Conf `json:"articulate"`
}

func DefaultConf() Conf {
	return Conf{
		Physics:    physics.DefaultConf(),
		Derail:     derail.DefaultConf(),
		Proximity:  proximity.DefaultConf(),
		Articulate: articulate.DefaultConf(),
	}
}

func (c Conf) Validate() error {
	if err := c.Physics.Validate(); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	if err := c.Derail.Validate(); err != nil {
		return fmt.Errorf("derail: %w", err)
	}
	if err := c.Proximity.Validate(); err != nil {
		return fmt.Errorf("proximity: %w", err)
	}
	if err := c.Articulate.Validate(); err != nil {
		return fmt.Errorf("articulate: %w", err)
	}
	return nil
}

// Factory makes a body. extent is half the body's length.
type Factory func(mass, extent float64) body.Body

func RigidFactory(mass, extent float64) body.Body {
	return body.NewRigid(mass, extent)
}

// Spec identifies a train. Zero ids are filled in with new ones.
type Spec struct {
	ID      uuid.UUID
	Form    uuid.UUID
	Mission int
	// Segments are the segment ids to reuse, in order; e.g. when restoring.
	Segments []uuid.UUID
}

type Train struct {
	id      uuid.UUID
	formID  uuid.UUID
	form    consist.Form
	mission int
	conf    Conf

	segs     []*Segment
	follower path.Follower
	unhook   func()
	disposed bool

	integ   *physics.Integrator
	monitor *derail.Monitor
	tracker *proximity.Tracker
	art     *articulate.Articulator
}

var _ collide.Train = (*Train)(nil)

// New makes a train from form on follower. The train takes over the follower until it derails.
func New(conf Conf, spec Spec, form consist.Form, follower path.Follower, factory Factory) (*Train, error) {
	if err := form.Check(); err != nil {
		return nil, fmt.Errorf("form %s: %w", spec.Form, err)
	}
	if follower == nil {
		return nil, errors.New("no path follower")
	}
	if spec.Segments != nil && len(spec.Segments) != len(form.Cars) {
		return nil, fmt.Errorf("%d segment ids for %d cars", len(spec.Segments), len(form.Cars))
	}
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	t := &Train{
		id:       spec.ID,
		formID:   spec.Form,
		form:     form,
		mission:  spec.Mission,
		conf:     conf,
		follower: follower,
		integ:    physics.New(conf.Physics, form.Wheel(), follower.Direction()),
		monitor:  derail.New(conf.Derail, spec.ID),
		art:      articulate.New(conf.Articulate, len(form.Cars), uuidSeed(spec.ID)),
	}
	behind := form.Behind()
	var own []uuid.UUID
	for i, car := range form.Cars {
		id := uuid.New()
		if spec.Segments != nil {
			id = spec.Segments[i]
		}
		s := &Segment{
			id:      id,
			index:   i,
			car:     car,
			behind:  behind[i],
			bound:   factory(car.Mass, car.Length/2),
			visible: factory(car.Mass, car.Length/2),
		}
		s.pose = OnRails{Bound: s.bound}
		s.bound.SetCollision(true)
		s.visible.SetCollision(false)
		s.visible.Attach(s.bound, body.Identity())
		own = append(own, s.bound.ID(), s.visible.ID())
		t.segs = append(t.segs, s)
	}
	t.tracker = proximity.NewTracker(conf.Proximity, own)
	t.unhook = follower.OnDerail().Add(fmt.Sprintf("train %s", t.id), func(e path.DerailEvent) bool {
		t.monitor.Request(derail.CausePath, e.Offset)
		return true
	})
	t.integ.SetSpeed(follower.Speed())
	t.place()
	zap.S().Debugf("train: new %s (%d segments, form %s)", t.id, len(t.segs), t.formID)
	return t, nil
}

func uuidSeed(id uuid.UUID) uint64 {
	var s uint64
	for _, b := range id[:8] {
		s = s<<8 | uint64(b)
	}
	return s
}

func (t *Train) String() string {
	return fmt.Sprintf("train(%s %s %s)", t.id, t.integ, t.monitor)
}

func (t *Train) ID() uuid.UUID                   { return t.id }
func (t *Train) Form() uuid.UUID                 { return t.formID }
func (t *Train) Mission() int                    { return t.mission }
func (t *Train) Segments() []*Segment            { return t.segs }
func (t *Train) Integrator() *physics.Integrator { return t.integ }
func (t *Train) Monitor() *derail.Monitor        { return t.monitor }
func (t *Train) Disposed() bool                  { return t.disposed }

// Follower is the path follower, or ErrDerailed once the train has left it.
func (t *Train) Follower() (path.Follower, error) {
	if err := t.onRails(); err != nil {
		return nil, err
	}
	return t.follower, nil
}

func (t *Train) Direction() bool { return t != nil && t.integ.Direction() }

// Derailed is false for a nil train so restore flows may ask before the train exists.
func (t *Train) Derailed() bool {
	if t == nil {
		return false
	}
	return t.monitor.Derailed()
}

func (t *Train) Speed() float64 {
	if t == nil {
		return 0
	}
	return t.integ.Speed()
}

func (t *Train) TrackSpeed() float64 {
	if t == nil {
		return 0
	}
	return t.integ.TrackSpeed()
}

func (t *Train) ApplyTrackImpulse(dv float64)   { t.integ.ApplyTrackImpulse(dv) }
func (t *Train) ApplyDriveForce(f float64)      { t.integ.ApplyDriveForce(f) }
func (t *Train) ApplyResistanceForce(f float64) { t.integ.ApplyResistanceForce(f) }

// Wheel is the locomotive's wheel tuning.
func (t *Train) Wheel() consist.Wheel { return t.form.Wheel() }

func (t *Train) Mass() float64 { return t.form.Mass() }

// Bodies returns the authoritative bodies, lead first.
func (t *Train) Bodies() []body.Body {
	res := make([]body.Body, len(t.segs))
	for i, s := range t.segs {
		res[i] = s.Body()
	}
	return res
}

// OwnBodies returns both bodies of every segment.
func (t *Train) OwnBodies() []body.Body {
	res := make([]body.Body, 0, 2*len(t.segs))
	for _, s := range t.segs {
		res = append(res, s.bound, s.visible)
	}
	return res
}

func (t *Train) lead() body.Body { return t.segs[0].Body() }

// LeadingEdge is the end the train moves towards: the front of the lead segment,
// or the back of the last one while reversing.
func (t *Train) LeadingEdge() mgl64.Vec3 {
	if t.integ.Speed() < 0 {
		l := t.segs[len(t.segs)-1].Body()
		return l.Position().Sub(l.Forward().Mul(l.Extent()))
	}
	l := t.lead()
	return l.Position().Add(l.Forward().Mul(l.Extent()))
}

// Velocity of the whole train: along the lead's forward axis while on rails, the mean of the free bodies after.
func (t *Train) Velocity() mgl64.Vec3 {
	if !t.Derailed() {
		return t.lead().Forward().Mul(t.integ.Speed())
	}
	var v mgl64.Vec3
	for _, s := range t.segs {
		v = v.Add(s.Body().Velocity())
	}
	return v.Mul(1 / float64(len(t.segs)))
}

// AverageVelocity uses the speed averaged over the last second.
func (t *Train) AverageVelocity() mgl64.Vec3 {
	if t.Derailed() {
		return t.Velocity()
	}
	return t.lead().Forward().Mul(t.integ.AverageSpeed())
}

// RequestDerail asks for a derailment at the end of the tick. It is a no-op once derailed.
func (t *Train) RequestDerail(cause derail.Cause, value float64) {
	t.monitor.Request(cause, value)
}

func (t *Train) onRails() error {
	if t.disposed {
		return ErrDisposed
	}
	if t.Derailed() {
		return ErrDerailed
	}
	return nil
}

func (t *Train) WarpToNode(i int) error {
	if err := t.onRails(); err != nil {
		return fmt.Errorf("warp %s to node %d: %w", t.id, i, err)
	}
	if err := t.follower.WarpToNode(i); err != nil {
		return err
	}
	t.art.Reset()
	t.tracker.Invalidate()
	t.place()
	return nil
}

func (t *Train) MoveToNode(i int) error {
	if err := t.onRails(); err != nil {
		return fmt.Errorf("move %s to node %d: %w", t.id, i, err)
	}
	return t.follower.MoveToNode(i)
}

// place puts every path-bound body on the path. Visible bodies follow by attachment.
func (t *Train) place() {
	v := t.integ.Speed()
	for _, s := range t.segs {
		pos, rot, _ := t.follower.Pose(s.behind)
		s.bound.SetPose(pos, rot)
		s.bound.SetVelocity(rot.Rotate(body.LocalForward).Mul(v))
	}
}

// Integrate moves the train along its path with the current speed, then integrates forces into the speed.
func (t *Train) Integrate(dt float64, in physics.TickInput) {
	if t.disposed {
		return
	}
	if t.Derailed() {
		t.integ.Tick(dt, in)
		t.pushFree(t.integ.TakeFreeBodyDelta())
		return
	}
	t.follower.SetSpeed(t.integ.Speed())
	t.follower.Advance(dt)
	in.Pitch = t.follower.Pitch()
	t.integ.Tick(dt, in)
	t.place()
	t.checkChassis()
}

// pushFree hands speed changes accumulated after derailing to the free bodies.
func (t *Train) pushFree(delta float64) {
	if delta != 0 {
		for _, s := range t.segs {
			b := s.Body()
			b.SetVelocity(b.Velocity().Add(b.Forward().Mul(delta)))
		}
	}
	l := t.lead()
	t.integ.SetSpeed(l.Velocity().Dot(l.Forward()))
}

// checkChassis compares the lead segment's up axis with the next segment's (or the world's, for a single car).
func (t *Train) checkChassis() {
	up := body.WorldUp
	if len(t.segs) > 1 {
		up = t.segs[1].bound.Up()
	}
	a := angleBetween(t.segs[0].bound.Up(), up)
	t.monitor.CheckAngle(derail.CauseChassis, a)
}

func angleBetween(a, b mgl64.Vec3) float64 {
	r := math.Atan2(a.Cross(b).Len(), a.Dot(b))
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// Forget drops bodies that left the world from the candidate list, so they aren't resolved until the next scan.
func (t *Train) Forget(ids []uuid.UUID) {
	if t == nil {
		return
	}
	for _, id := range ids {
		t.tracker.Forget(id)
	}
}

// Candidates are the bodies found by the last proximity scan.
func (t *Train) Candidates() []body.Body {
	if t == nil {
		return nil
	}
	return t.tracker.Candidates()
}

// Collide rescans the neighbourhood if due and resolves contacts against it.
func (t *Train) Collide(now time.Duration, dt float64, w proximity.World, r *collide.Resolver, owner collide.Owner) []collide.Contact {
	if t.disposed || t.Derailed() {
		return nil
	}
	t.tracker.Update(now, t.LeadingEdge(), w)
	return r.Resolve(t, t.tracker.Candidates(), dt, owner)
}

// Articulate computes turn angles and updates the visible bodies' attachment.
func (t *Train) Articulate(dt float64) {
	if t.disposed || t.Derailed() {
		return
	}
	fwds := make([]mgl64.Vec3, len(t.segs))
	for i, s := range t.segs {
		fwds[i] = s.bound.Forward()
	}
	_, peak := t.art.Step(dt, t.integ.Speed(), fwds, t.conf.Derail.AngleThreshold)
	t.monitor.CheckAngle(derail.CauseTurn, peak)
	for i, s := range t.segs {
		s.visible.Attach(s.bound, t.art.Transform(i))
	}
}

// CommitDerail commits the first pending derailment no veto hook cancels.
// A vetoed path derailment leaves the train stopped at the end of its path.
func (t *Train) CommitDerail(now time.Duration) (bool, derail.Request, []derail.Request) {
	if t.disposed {
		return false, derail.Request{}, nil
	}
	ok, req, vetoed := t.monitor.Commit(now, t)
	if !ok && slices.IndexFunc(vetoed, func(r derail.Request) bool { return r.Cause == derail.CausePath }) != -1 {
		t.integ.SetSpeed(0)
		t.follower.SetSpeed(0)
		t.place()
	}
	return ok, req, vetoed
}

// AdvanceTransition runs the second tick of a derailment and the stabilization window.
func (t *Train) AdvanceTransition(now time.Duration) {
	if t.disposed {
		return
	}
	t.monitor.Advance(now, t)
}

// Derail derails the train now. It reports whether this call derailed it;
// calling it on a derailed train is a no-op.
func (t *Train) Derail(now time.Duration, cause derail.Cause) bool {
	if t.disposed || t.Derailed() {
		return false
	}
	t.monitor.Request(cause, 0)
	ok, _, _ := t.CommitDerail(now)
	return ok
}

// Detach is the first half of the handoff to free bodies.
func (t *Train) Detach() {
	for _, s := range t.segs {
		s.bound.SetCollision(false)
	}
	for _, s := range t.segs {
		s.visible.Detach()
		s.bound.SetVelocity(mgl64.Vec3{})
		s.derail()
	}
	t.integ.SetDerailed()
	t.unhook()
	t.follower = nil
}

// Release is the second half, a tick after Detach.
func (t *Train) Release() {
	for _, s := range t.segs {
		s.visible.SetCollision(true)
	}
}

// Stabilize keeps each free body moving along its own forward axis and hitched to the one in front.
func (t *Train) Stabilize() {
	for i, s := range t.segs {
		b := s.Body()
		f := b.Forward()
		b.SetVelocity(f.Mul(b.Velocity().Dot(f)))
		if i > 0 {
			front := t.segs[i-1]
			b.LinkTrailer(front.Body(), s.behind-front.behind)
		}
	}
}

// Dispose removes the train. Its bodies stop colliding and it no longer takes part in anything.
func (t *Train) Dispose() {
	if t.disposed {
		return
	}
	t.disposed = true
	if t.unhook != nil && !t.Derailed() {
		t.unhook()
	}
	for _, s := range t.segs {
		s.bound.SetCollision(false)
		s.visible.SetCollision(false)
	}
	zap.S().Debugf("train: disposed %s", t.id)
}

// Tags are the persisted per-segment tags.
func (t *Train) Tags() []persist.Segment {
	res := make([]persist.Segment, len(t.segs))
	for i, s := range t.segs {
		res[i] = persist.Segment{
			Train:   t.id,
			Index:   i,
			Segment: s.id,
			Tags: map[string]persist.Value{
				persist.TagDirection: persist.Bool(t.Direction()),
				persist.TagCarriages: persist.Int(len(t.segs)),
				persist.TagDerailed:  persist.Bool(t.Derailed()),
				persist.TagMission:   persist.Int(t.mission),
			},
		}
	}
	return res
}
