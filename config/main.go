// Package config reads a scenario: tuning, formations, trains and obstacles.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/collide"
	"nyiyui.ca/hato/dassen/consist"
	"nyiyui.ca/hato/dassen/train"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	// DT is the fixed tick length in seconds.
	DT float64 `json:"dt"`
	// Ticks to run; 0 runs until interrupted.
	Ticks   int          `json:"ticks"`
	Train   train.Conf   `json:"train"`
	Collide collide.Conf `json:"collide"`
	// LockBrake is the brake force at and above which wheels lock.
	LockBrake float64 `json:"lock-brake"`
	// Cars are the formations, in the same format as a standalone cars.json.
	Cars      consist.Data `json:"cars"`
	Trains    []TrainSpec  `json:"trains"`
	Obstacles []Obstacle   `json:"obstacles"`
}

type TrainSpec struct {
	ID      uuid.UUID `json:"id"`
	Form    uuid.UUID `json:"form"`
	Mission int       `json:"mission"`
	// Path nodes in world space (Z up).
	Path []mgl64.Vec3 `json:"path"`
	// Offset of the lead segment's centre along Path, in m from the first node.
	Offset    float64 `json:"offset"`
	Speed     float64 `json:"speed"`
	Direction bool    `json:"direction"`
	Drive     float64 `json:"drive"`
	Brake     float64 `json:"brake"`
}

type Obstacle struct {
	Position mgl64.Vec3 `json:"position"`
	Velocity mgl64.Vec3 `json:"velocity"`
	Mass     float64    `json:"mass"`
	Extent   float64    `json:"extent"`
}

func Default() Config {
	return Config{
		DT:        1.0 / 60,
		Train:     train.DefaultConf(),
		Collide:   collide.DefaultConf(),
		LockBrake: 8,
		Cars:      consist.Data{Forms: map[uuid.UUID]consist.Form{}},
	}
}

// Load reads the JSON file at path over Default.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, a...))
}

// Validate checks tuning and that every train refers to a known formation.
// Trains without an id get one.
func (c *Config) Validate() error {
	if c.DT <= 0 {
		return invalid("dt %f must be positive", c.DT)
	}
	if c.Ticks < 0 {
		return invalid("negative ticks")
	}
	if err := c.Train.Validate(); err != nil {
		return invalid("train: %s", err)
	}
	if err := c.Collide.Validate(); err != nil {
		return invalid("collide: %s", err)
	}
	if c.Collide.EnergyThreshold != c.Train.Derail.EnergyThreshold {
		return invalid("collide energy threshold %f differs from derail energy threshold %f", c.Collide.EnergyThreshold, c.Train.Derail.EnergyThreshold)
	}
	if c.LockBrake <= 0 {
		return invalid("lock-brake must be positive")
	}
	seen := map[uuid.UUID]bool{}
	for i := range c.Trains {
		ts := &c.Trains[i]
		if ts.ID == uuid.Nil {
			ts.ID = uuid.New()
		}
		if seen[ts.ID] {
			return invalid("train %d: duplicate id %s", i, ts.ID)
		}
		seen[ts.ID] = true
		if len(ts.Path) < 2 {
			return invalid("train %d: path needs at least 2 nodes", i)
		}
		if _, ok := c.Cars.Forms[ts.Form]; !ok {
			return invalid("train %d: unknown form %s", i, ts.Form)
		}
		if ts.Brake < 0 {
			return invalid("train %d: negative brake", i)
		}
	}
	for i, o := range c.Obstacles {
		if o.Mass <= 0 || o.Extent <= 0 {
			return invalid("obstacle %d: mass and extent must be positive", i)
		}
	}
	return nil
}
