package coords

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMultiplyOrder(t *testing.T) {
	// Scale then translate: the translation is not scaled.
	m := Scale(2, 2).Multiply(Translate(10, 0))
	p := m.Transform(Point{1, 1})
	if !near(p.X, 12) || !near(p.Y, 2) {
		t.Fatalf("got %+v", p)
	}
}

func TestInverse(t *testing.T) {
	m := Scale(3, 4).Multiply(RotateDegrees(30)).Multiply(Translate(5, -7))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := inv.Transform(m.Transform(Point{2, 9}))
	if !near(p.X, 2) || !near(p.Y, 9) {
		t.Fatalf("round trip: %+v", p)
	}
	if _, err := Scale(0, 1).Inverse(); err != ErrSingular {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
}

func TestRotateDegreesQuarterTurns(t *testing.T) {
	cases := []struct {
		deg  float64
		want Point
	}{
		{0, Point{1, 0}},
		{90, Point{0, 1}},
		{180, Point{-1, 0}},
		{-90, Point{0, -1}},
		{450, Point{0, 1}},
	}
	for _, tc := range cases {
		if got := RotateDegrees(tc.deg).Transform(Point{1, 0}); got != tc.want {
			t.Fatalf("%v: got %+v want %+v", tc.deg, got, tc.want)
		}
	}
}

func TestBounds(t *testing.T) {
	minX, minY, maxX, maxY := Scale(100, 50).Multiply(Translate(10, 20)).Bounds()
	if minX != 10 || minY != 20 || maxX != 110 || maxY != 70 {
		t.Fatalf("bounds: %v %v %v %v", minX, minY, maxX, maxY)
	}
}
