package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"nyiyui.ca/hato/dassen/consist"
)

func TestLoad(t *testing.T) {
	c, err := Load("testdata/scenario.json")
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if c.Ticks != 600 || len(c.Trains) != 2 || len(c.Obstacles) != 1 || len(c.Cars.Forms) != 2 {
		t.Fatalf("loaded %+v", c)
	}
	if c.Trains[0].ID != uuid.MustParse("5b0c1d8e-0f3a-4a57-9d0e-3c8f2e6b7a10") {
		t.Fatalf("id %s", c.Trains[0].ID)
	}
	if !cmp.Equal(c.Trains[0].Path[1], mgl64.Vec3{400, 0, 0}) {
		t.Fatalf("path %v", c.Trains[0].Path)
	}
	// unset tuning keeps its default
	if c.Train.Proximity.Interval != 250*time.Millisecond || c.Train.Derail.EnergyThreshold != 150000 {
		t.Fatalf("defaults lost: %+v", c.Train)
	}
}

func write(t *testing.T, data string) string {
	p := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"dt":        `{"dt": -1}`,
		"form":      `{"trains": [{"form": "2fe1cbb0-b584-45f5-96ec-a9bfd55b1e91", "path": [[0,0,0],[1,0,0]]}]}`,
		"path":      `{"trains": [{"path": [[0,0,0]]}]}`,
		"threshold": `{"collide": {"energy-threshold": 1, "predict-factor": 2}}`,
		"interval":  `{"train": {"proximity": {"interval": 2000000000, "radius": 120, "max-closing-speed": 240, "cell-size": 40}}}`,
		"obstacle":  `{"obstacles": [{"mass": 0, "extent": 1}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, data))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestFillsIDs(t *testing.T) {
	c := Default()
	c.Trains = []TrainSpec{{Path: []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}}}}
	c.Cars.Forms[uuid.Nil] = consist.Form{Cars: []consist.Car{{Length: 1, Mass: 1}}}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Trains[0].ID == uuid.Nil {
		t.Fatal("no id assigned")
	}
}
