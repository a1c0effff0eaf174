package proximity

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"nyiyui.ca/hato/dassen/body"
)

type cell struct {
	x, y int
}

// Grid is a uniform spatial hash over the ground plane (X/Y; Z is up).
// It is rebuilt once per tick from the bodies whose collision is enabled.
type Grid struct {
	size  float64
	cells map[cell][]body.Body
	n     int
}

var _ World = (*Grid)(nil)

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		panic("grid cell size must be positive")
	}
	return &Grid{size: cellSize, cells: map[cell][]body.Body{}}
}

func (g *Grid) cellOf(p mgl64.Vec3) cell {
	return cell{int(math.Floor(p.X() / g.size)), int(math.Floor(p.Y() / g.size))}
}

// Clear removes every body but keeps the allocated cells.
func (g *Grid) Clear() {
	for k, v := range g.cells {
		g.cells[k] = v[:0]
	}
	g.n = 0
}

// Insert adds b unless its collision is disabled.
func (g *Grid) Insert(b body.Body) bool {
	if !b.Collision() {
		return false
	}
	c := g.cellOf(b.Position())
	g.cells[c] = append(g.cells[c], b)
	g.n++
	return true
}

func (g *Grid) Len() int { return g.n }

// Query returns the collidable bodies that reach within radius of center, in a stable order.
func (g *Grid) Query(center mgl64.Vec3, radius float64) []body.Body {
	// bodies are bucketed by centre, so widen by the largest plausible half length
	reach := radius + g.size
	lo := g.cellOf(center.Sub(mgl64.Vec3{reach, reach, 0}))
	hi := g.cellOf(center.Add(mgl64.Vec3{reach, reach, 0}))
	var res []body.Body
	for y := lo.y; y <= hi.y; y++ {
		for x := lo.x; x <= hi.x; x++ {
			for _, b := range g.cells[cell{x, y}] {
				if !b.Collision() {
					continue
				}
				if b.Position().Sub(center).Len()-b.Extent() > radius {
					continue
				}
				res = append(res, b)
			}
		}
	}
	return res
}
