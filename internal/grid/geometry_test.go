package grid

import (
	"errors"
	"math"
	"testing"
)

func TestWorldToScreenCentersCamera(t *testing.T) {
	g := Geometry{GridSize: 50, CameraX: 100, CameraY: 100, Zoom: 2}
	got := g.WorldToScreen(150, 75, 800, 600)
	want := Point{X: 500, Y: 250}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	back := g.ScreenToWorld(got.X, got.Y, 800, 600)
	if back != (Point{X: 150, Y: 75}) {
		t.Fatalf("expected round trip to world position, got %+v", back)
	}
}

func TestZeroZoomBehavesAsIdentity(t *testing.T) {
	g := Geometry{GridSize: 50}
	if got := g.WorldToScreen(10, 20, 0, 0); got != (Point{X: 10, Y: 20}) {
		t.Fatalf("unexpected projection %+v", got)
	}
}

func TestTileDistance(t *testing.T) {
	if got := TileDistance(100, 50); got != 2 {
		t.Fatalf("expected 2 tiles, got %v", got)
	}
	if got := FeetFromTiles(2, 5); got != 10 {
		t.Fatalf("expected 10 feet, got %v", got)
	}
	for _, size := range []float64{0, -10} {
		if got := TileDistance(100, size); !math.IsNaN(got) {
			t.Fatalf("expected NaN for grid size %v, got %v", size, got)
		}
	}
}

func TestSnapToGrid(t *testing.T) {
	g := New(50)
	cases := []struct {
		in   Point
		tile Tile
		want Point
	}{
		{Point{X: 10, Y: 10}, Tile{0, 0}, Point{X: 25, Y: 25}},
		{Point{X: 99.9, Y: 149}, Tile{1, 2}, Point{X: 75, Y: 125}},
		{Point{X: -1, Y: -51}, Tile{-1, -2}, Point{X: -25, Y: -75}},
	}
	for _, tc := range cases {
		if tile := g.WorldToGrid(tc.in.X, tc.in.Y); tile != tc.tile {
			t.Fatalf("WorldToGrid(%+v) = %+v, want %+v", tc.in, tile, tc.tile)
		}
		if got := g.SnapToGrid(tc.in); got != tc.want {
			t.Fatalf("SnapToGrid(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := New(50).Validate(); err != nil {
		t.Fatalf("expected valid geometry, got %v", err)
	}
	if err := New(0).Validate(); !errors.Is(err, ErrInvalidGridSize) {
		t.Fatalf("expected ErrInvalidGridSize, got %v", err)
	}
	if err := (Geometry{GridSize: 50, Zoom: -1}).Validate(); !errors.Is(err, ErrInvalidZoom) {
		t.Fatalf("expected ErrInvalidZoom, got %v", err)
	}
}
