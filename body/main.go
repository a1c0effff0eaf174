// Package body is the boundary to the per-segment physical bodies.
//
// World space is Z-up. A body's local forward axis is +X.
package body

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

var (
	LocalForward = mgl64.Vec3{1, 0, 0}
	LocalUp      = mgl64.Vec3{0, 0, 1}
	WorldUp      = mgl64.Vec3{0, 0, 1}
)

// Transform is an offset and rotation relative to a parent body.
type Transform struct {
	Offset   mgl64.Vec3
	Rotation mgl64.Quat
}

func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

type Body interface {
	ID() uuid.UUID
	Position() mgl64.Vec3
	Rotation() mgl64.Quat
	Velocity() mgl64.Vec3
	Forward() mgl64.Vec3
	Up() mgl64.Vec3
	Mass() float64
	// Extent is half the body's length along its forward axis.
	Extent() float64

	SetPose(pos mgl64.Vec3, rot mgl64.Quat)
	SetVelocity(v mgl64.Vec3)

	Collision() bool
	SetCollision(enabled bool)

	// Attach makes the body follow parent with the relative transform t.
	// Attaching again only updates t.
	Attach(parent Body, t Transform)
	// Detach freezes the body's world pose and velocity at the moment of detaching.
	Detach()
	Parent() Body

	// LinkTrailer keeps the body within gap of tow, like a trailer hitch.
	LinkTrailer(tow Body, gap float64)
}

// Stepper is implemented by bodies that integrate their own free motion.
type Stepper interface {
	Step(dt float64)
}
