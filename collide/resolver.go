// Package collide classifies contacts between a train and the bodies near it.
package collide

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nyiyui.ca/hato/dassen/body"
	"nyiyui.ca/hato/dassen/couple"
	"nyiyui.ca/hato/dassen/derail"
)

type Conf struct {
	// EnergyThreshold above which a contact derails instead of coupling.
	EnergyThreshold float64 `json:"energy-threshold"`
	// PredictFactor scales the velocity used to predict next-frame positions of two trains.
	// It is deliberately above 1 to make up for position lag at speed.
	PredictFactor float64 `json:"predict-factor"`
	// ContactBase is the predicted separation under which two trains touch at zero relative speed.
	ContactBase float64 `json:"contact-base"`
	// ContactSpeedScale widens ContactBase by this many frames of relative motion.
	ContactSpeedScale float64 `json:"contact-speed-scale"`
}

func DefaultConf() Conf {
	return Conf{
		EnergyThreshold:   derail.DefaultConf().EnergyThreshold,
		PredictFactor:     2,
		ContactBase:       0.5,
		ContactSpeedScale: 1,
	}
}

func (c Conf) Validate() error {
	if c.EnergyThreshold <= 0 {
		return fmt.Errorf("energy threshold %f must be positive", c.EnergyThreshold)
	}
	if c.PredictFactor < 0 || c.ContactBase < 0 || c.ContactSpeedScale < 0 {
		return fmt.Errorf("negative contact tuning")
	}
	return nil
}

// Train is a train as seen by the resolver.
type Train interface {
	ID() uuid.UUID
	// Bodies are the train's collidable bodies, lead first.
	Bodies() []body.Body
	// Velocity is the world velocity of the train as a whole.
	Velocity() mgl64.Vec3
	// AverageVelocity is Velocity with the speed averaged over the last second.
	AverageVelocity() mgl64.Vec3
	Derailed() bool
	RequestDerail(cause derail.Cause, value float64)
}

// Owner finds the train a body belongs to.
type Owner func(id uuid.UUID) (Train, bool)

type Class int

const (
	// ClassNone is a candidate out of contact.
	ClassNone Class = iota
	// ClassSoft is a contact below the energy threshold with something other than a train. It is ignored.
	ClassSoft
	ClassCouple
	ClassUncouple
	ClassDerail
)

func (c Class) String() string {
	return [...]string{"none", "soft", "couple", "uncouple", "derail"}[c]
}

type Contact struct {
	// Segment is the index of self's body in contact.
	Segment int
	Other   body.Body
	// OtherTrain is uuid.Nil for obstacles.
	OtherTrain uuid.UUID
	Energy     float64
	Class      Class
}

func (c Contact) String() string {
	return fmt.Sprintf("contact(seg%d %s train%s e%.0f %s)", c.Segment, c.Other.ID(), c.OtherTrain, c.Energy, c.Class)
}

// KineticEnergy is the empirical impact energy: mass times relative speed.
// It is symmetric in the two velocities.
func KineticEnergy(mass float64, vOther, vSelf mgl64.Vec3) float64 {
	e := mass * vOther.Sub(vSelf).Len()
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return 0
	}
	return e
}

// Approaching reports whether other is moving towards self, relative to self.
// Swapping the arguments gives the same answer. Zero relative velocity counts as approaching,
// so trains pushing at equal speed stay coupled.
func Approaching(posSelf, vSelf, posOther, vOther mgl64.Vec3) bool {
	d := posSelf.Sub(posOther)
	if d.Len() == 0 {
		return true
	}
	return vOther.Sub(vSelf).Dot(d.Normalize()) >= 0
}

type Resolver struct {
	conf  Conf
	graph *couple.Graph
}

func NewResolver(conf Conf, graph *couple.Graph) *Resolver {
	return &Resolver{conf: conf, graph: graph}
}

// Touching is the geometric test for obstacles: the bodies' extents overlap.
func Touching(a, b body.Body) bool {
	return a.Position().Sub(b.Position()).Len() <= a.Extent()+b.Extent()
}

// Predicted is the test for two trains: their positions one over-predicted frame ahead
// are closer than a threshold that widens with relative speed.
func (r *Resolver) Predicted(a, b body.Body, dt float64) bool {
	pa := a.Position().Add(a.Velocity().Mul(r.conf.PredictFactor * dt))
	pb := b.Position().Add(b.Velocity().Mul(r.conf.PredictFactor * dt))
	sep := pa.Sub(pb).Len() - a.Extent() - b.Extent()
	vrel := a.Velocity().Sub(b.Velocity()).Len()
	return sep < r.conf.ContactBase+r.conf.ContactSpeedScale*vrel*dt
}

// Resolve checks every candidate against every body of self, classifies the first contact per candidate,
// and updates the coupling graph. Derailments are only requested; the caller commits them later in the tick.
func (r *Resolver) Resolve(self Train, candidates []body.Body, dt float64, owner Owner) []Contact {
	if self.Derailed() {
		return nil
	}
	segs := self.Bodies()
	var contacts []Contact
	for _, c := range candidates {
		if !c.Collision() {
			continue
		}
		other, isTrain := owner(c.ID())
		if isTrain && other.ID() == self.ID() {
			continue
		}
		if isTrain && other.Derailed() {
			// wreckage is an obstacle
			other, isTrain = nil, false
		}
		hit := -1
		for i, s := range segs {
			var ok bool
			if isTrain {
				ok = r.Predicted(s, c, dt)
			} else {
				ok = Touching(s, c)
			}
			if ok {
				hit = i
				break
			}
		}
		if hit == -1 {
			if isTrain && r.graph.Has(self.ID(), other.ID()) && !Approaching(segs[0].Position(), self.Velocity(), c.Position(), other.Velocity()) {
				r.graph.Remove(self.ID(), other.ID())
				contacts = append(contacts, Contact{Segment: -1, Other: c, OtherTrain: other.ID(), Class: ClassUncouple})
			}
			continue
		}
		contacts = append(contacts, r.classify(self, segs[hit], hit, c, other, isTrain))
	}
	return contacts
}

func (r *Resolver) classify(self Train, seg body.Body, hit int, c body.Body, other Train, isTrain bool) Contact {
	ct := Contact{Segment: hit, Other: c}
	var energy float64
	if isTrain {
		ct.OtherTrain = other.ID()
		// the heavier side of the contact, so both trains compute the same energy
		energy = KineticEnergy(math.Max(seg.Mass(), c.Mass()), other.AverageVelocity(), self.AverageVelocity())
	} else {
		energy = KineticEnergy(c.Mass(), c.Velocity(), self.AverageVelocity())
	}
	ct.Energy = energy
	switch {
	case energy > r.conf.EnergyThreshold:
		ct.Class = ClassDerail
		self.RequestDerail(derail.CauseImpact, energy)
		if isTrain {
			other.RequestDerail(derail.CauseImpact, energy)
			r.graph.Remove(self.ID(), other.ID())
		}
		zap.S().Infof("collide: %s hit %s with energy %.0f", self.ID(), c.ID(), energy)
	case isTrain:
		if Approaching(seg.Position(), self.Velocity(), c.Position(), other.Velocity()) {
			ct.Class = ClassCouple
			r.graph.Add(self.ID(), other.ID())
		} else {
			ct.Class = ClassUncouple
			r.graph.Remove(self.ID(), other.ID())
		}
	default:
		ct.Class = ClassSoft
	}
	return ct
}
