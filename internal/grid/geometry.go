// Package grid converts between world, screen, and tile coordinates.
package grid

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidGridSize = errors.New("grid size must be positive")
	ErrInvalidZoom     = errors.New("zoom must be positive")
)

// Point is a position in world or screen units depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Tile addresses a grid cell.
type Tile struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// Geometry holds the grid and camera state. The zero Zoom is treated as 1.
type Geometry struct {
	GridSize float64
	OffsetX  float64
	OffsetY  float64
	CameraX  float64
	CameraY  float64
	Zoom     float64
}

func New(gridSize float64) Geometry {
	return Geometry{GridSize: gridSize, Zoom: 1}
}

func (g Geometry) Validate() error {
	if !(g.GridSize > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidGridSize, g.GridSize)
	}
	if g.Zoom < 0 || math.IsNaN(g.Zoom) {
		return fmt.Errorf("%w: %v", ErrInvalidZoom, g.Zoom)
	}
	return nil
}

func (g Geometry) zoom() float64 {
	if g.Zoom == 0 {
		return 1
	}
	return g.Zoom
}

// WorldToScreen projects a world position with the camera at the viewport centre.
func (g Geometry) WorldToScreen(x, y, viewportW, viewportH float64) Point {
	z := g.zoom()
	return Point{
		X: (x-g.CameraX)*z + viewportW/2,
		Y: (y-g.CameraY)*z + viewportH/2,
	}
}

// ScreenToWorld inverts WorldToScreen.
func (g Geometry) ScreenToWorld(x, y, viewportW, viewportH float64) Point {
	z := g.zoom()
	return Point{
		X: (x-viewportW/2)/z + g.CameraX,
		Y: (y-viewportH/2)/z + g.CameraY,
	}
}

// WorldToGrid returns the tile containing the world position.
func (g Geometry) WorldToGrid(x, y float64) Tile {
	return Tile{
		Col: int(math.Floor((x - g.OffsetX) / g.GridSize)),
		Row: int(math.Floor((y - g.OffsetY) / g.GridSize)),
	}
}

// GridToWorld returns the world position of the tile centre.
func (g Geometry) GridToWorld(t Tile) Point {
	return Point{
		X: float64(t.Col)*g.GridSize + g.OffsetX + g.GridSize/2,
		Y: float64(t.Row)*g.GridSize + g.OffsetY + g.GridSize/2,
	}
}

// SnapToGrid moves p to the centre of its tile.
func (g Geometry) SnapToGrid(p Point) Point {
	return g.GridToWorld(g.WorldToGrid(p.X, p.Y))
}

// TileDistance converts a world distance to tiles. A non-positive gridSize
// yields NaN.
func TileDistance(worldDistance, gridSize float64) float64 {
	if !(gridSize > 0) {
		return math.NaN()
	}
	return worldDistance / gridSize
}

func FeetFromTiles(tiles, feetPerTile float64) float64 {
	return tiles * feetPerTile
}

func (g Geometry) TileDistance(worldDistance float64) float64 {
	return TileDistance(worldDistance, g.GridSize)
}
