package body

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Rigid is a point-mass body with a pose. It is enough to stand in for an engine's physics body.
type Rigid struct {
	id        uuid.UUID
	pos       mgl64.Vec3
	rot       mgl64.Quat
	vel       mgl64.Vec3
	mass      float64
	extent    float64
	collision bool

	parent Body
	attach Transform

	tow Body
	gap float64
}

var _ Body = (*Rigid)(nil)
var _ Stepper = (*Rigid)(nil)

func NewRigid(mass, extent float64) *Rigid {
	return NewRigidWithID(uuid.New(), mass, extent)
}

func NewRigidWithID(id uuid.UUID, mass, extent float64) *Rigid {
	return &Rigid{
		id:     id,
		rot:    mgl64.QuatIdent(),
		mass:   mass,
		extent: extent,
	}
}

func (r *Rigid) String() string {
	return fmt.Sprintf("rigid(%s p%v v%v c%t)", r.id, r.Position(), r.Velocity(), r.collision)
}

func (r *Rigid) ID() uuid.UUID { return r.id }

func (r *Rigid) Position() mgl64.Vec3 {
	if r.parent != nil {
		return r.parent.Position().Add(r.parent.Rotation().Rotate(r.attach.Offset))
	}
	return r.pos
}

func (r *Rigid) Rotation() mgl64.Quat {
	if r.parent != nil {
		return r.parent.Rotation().Mul(r.attach.Rotation).Normalize()
	}
	return r.rot
}

func (r *Rigid) Velocity() mgl64.Vec3 {
	if r.parent != nil {
		return r.parent.Velocity()
	}
	return r.vel
}

func (r *Rigid) Forward() mgl64.Vec3 { return r.Rotation().Rotate(LocalForward) }
func (r *Rigid) Up() mgl64.Vec3      { return r.Rotation().Rotate(LocalUp) }
func (r *Rigid) Mass() float64       { return r.mass }
func (r *Rigid) Extent() float64     { return r.extent }

func (r *Rigid) SetPose(pos mgl64.Vec3, rot mgl64.Quat) {
	r.pos = pos
	r.rot = rot.Normalize()
}

func (r *Rigid) SetVelocity(v mgl64.Vec3) { r.vel = v }

func (r *Rigid) Collision() bool           { return r.collision }
func (r *Rigid) SetCollision(enabled bool) { r.collision = enabled }

func (r *Rigid) Attach(parent Body, t Transform) {
	if parent == Body(r) {
		panic("body attached to itself")
	}
	if t.Rotation == (mgl64.Quat{}) {
		t.Rotation = mgl64.QuatIdent()
	}
	r.parent = parent
	r.attach = t
}

func (r *Rigid) Detach() {
	if r.parent == nil {
		return
	}
	pos, rot, vel := r.Position(), r.Rotation(), r.Velocity()
	r.parent = nil
	r.attach = Transform{}
	r.pos, r.rot, r.vel = pos, rot, vel
}

func (r *Rigid) Parent() Body { return r.parent }

func (r *Rigid) LinkTrailer(tow Body, gap float64) {
	r.tow = tow
	r.gap = gap
}

// Step integrates free motion; attached bodies only follow their parent.
func (r *Rigid) Step(dt float64) {
	if r.parent != nil {
		return
	}
	r.pos = r.pos.Add(r.vel.Mul(dt))
	if r.tow == nil {
		return
	}
	d := r.pos.Sub(r.tow.Position())
	dist := d.Len()
	if dist <= r.gap || dist == 0 {
		return
	}
	radial := d.Mul(1 / dist)
	r.pos = r.tow.Position().Add(radial.Mul(r.gap))
	// drop the part of the relative velocity that pulls away from the hitch
	rv := r.vel.Sub(r.tow.Velocity()).Dot(radial)
	if rv > 0 {
		r.vel = r.vel.Sub(radial.Mul(rv))
	}
}
