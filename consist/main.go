package consist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Data struct {
	Forms map[uuid.UUID]Form `json:"forms"` // json struct tag isn't actually used but kept for docs purposes
}

type dataJSON struct {
	Forms map[string]Form `json:"forms"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	d3 := dataJSON{Forms: map[string]Form{}}
	for key, f := range d.Forms {
		d3.Forms[key.String()] = f
	}
	return json.Marshal(d3)
}

func (d *Data) UnmarshalJSON(data []byte) error {
	var d3 dataJSON
	err := json.Unmarshal(data, &d3)
	if err != nil {
		return err
	}
	d2 := Data{Forms: map[uuid.UUID]Form{}}
	for key, f := range d3.Forms {
		u2, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("key %s: parse key as UUID: %w", key, err)
		}
		if err := f.Check(); err != nil {
			return fmt.Errorf("form %s: %w", key, err)
		}
		d2.Forms[u2] = f
	}
	*d = d2
	return nil
}

// Form represents a single formation.
type Form struct {
	Comment string `json:"comment"`
	// Gap between adjacent cars (couplers, buffers) in m.
	Gap float64 `json:"gap"`
	// Cars is the list of cars in this formation, locomotive first.
	// The order is fixed for the lifetime of any train made from this formation.
	Cars []Car `json:"cars"`
}

type Car struct {
	Comment string `json:"comment"`
	// Length of the car in m.
	Length float64 `json:"length"`
	// Mass of the car in reference units.
	Mass float64 `json:"mass"`
	// Wheel is this car's wheel slip tuning. Only the locomotive's is used to drive the train's wheel model.
	Wheel Wheel `json:"wheel"`
}

type Wheel struct {
	// SlipSpeed is the wheel speed (m/s) the wheels spin up to while slipping.
	SlipSpeed float64 `json:"slip-speed"`
	// SlipFactor scales the train speed into a slipping target when that is higher than SlipSpeed.
	SlipFactor float64 `json:"slip-factor"`
	// Rate is the exponential smoothing rate (1/s) of the wheel speed.
	Rate float64 `json:"rate"`
	// LockRate is the smoothing rate (1/s) while the wheels are locked.
	LockRate float64 `json:"lock-rate"`
	// Adhesion is the largest drive force the wheels transmit before slipping.
	Adhesion float64 `json:"adhesion"`
}

func DefaultWheel() Wheel {
	return Wheel{
		SlipSpeed:  12,
		SlipFactor: 1.6,
		Rate:       4,
		LockRate:   12,
		Adhesion:   3,
	}
}

var errNoCars = errors.New("formation has no cars")

func (f Form) Check() error {
	if len(f.Cars) == 0 {
		return errNoCars
	}
	if f.Gap < 0 {
		return fmt.Errorf("negative gap %f", f.Gap)
	}
	for i, c := range f.Cars {
		if c.Length <= 0 {
			return fmt.Errorf("car %d: length must be positive", i)
		}
		if c.Mass <= 0 {
			return fmt.Errorf("car %d: mass must be positive", i)
		}
	}
	return nil
}

// Length of the whole formation including gaps.
func (f Form) Length() float64 {
	var l float64
	for _, c := range f.Cars {
		l += c.Length
	}
	if len(f.Cars) > 1 {
		l += f.Gap * float64(len(f.Cars)-1)
	}
	return l
}

// Mass of the whole formation.
func (f Form) Mass() float64 {
	var m float64
	for _, c := range f.Cars {
		m += c.Mass
	}
	return m
}

// Behind returns, for every car, the distance from the locomotive's centre to that car's centre.
func (f Form) Behind() []float64 {
	res := make([]float64, len(f.Cars))
	for i := 1; i < len(f.Cars); i++ {
		res[i] = res[i-1] + f.Cars[i-1].Length/2 + f.Gap + f.Cars[i].Length/2
	}
	return res
}

// Wheel returns the locomotive's wheel tuning, falling back to DefaultWheel for unset fields.
func (f Form) Wheel() Wheel {
	def := DefaultWheel()
	if len(f.Cars) == 0 {
		return def
	}
	w := f.Cars[0].Wheel
	if w.SlipSpeed == 0 {
		w.SlipSpeed = def.SlipSpeed
	}
	if w.SlipFactor == 0 {
		w.SlipFactor = def.SlipFactor
	}
	if w.Rate == 0 {
		w.Rate = def.Rate
	}
	if w.LockRate == 0 {
		w.LockRate = def.LockRate
	}
	if w.Adhesion == 0 {
		w.Adhesion = def.Adhesion
	}
	return w
}
