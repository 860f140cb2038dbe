package grid

import (
	"math"
	"testing"
)

func TestPositionToIndex_CellCentreRoundTrip(t *testing.T) {
	geometries := []struct {
		length     Length
		resolution float64
	}{
		{Length{2, 2}, 1.0},
		{Length{3, 1.5}, 0.5},
		{Length{4, 2}, 0.25},
	}
	for _, geo := range geometries {
		rows := int(geo.length.X / geo.resolution)
		cols := int(geo.length.Y / geo.resolution)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				want := Index{r, c}
				pos := IndexToPosition(want, geo.length, geo.resolution)
				got, ok := PositionToIndex(pos, geo.length, geo.resolution)
				if !ok || got != want {
					t.Errorf("length=%v res=%v: centre %+v mapped to %+v (ok=%v), want %+v",
						geo.length, geo.resolution, pos, got, ok, want)
				}
			}
		}
	}
}

func TestPositionToIndex_Bounds(t *testing.T) {
	length := Length{2, 2}
	tests := []struct {
		name string
		pos  Position
		want Index
		ok   bool
	}{
		{"scenario point", Position{0.6, 0.6}, Index{1, 1}, true},
		{"origin", Position{0, 0}, Index{1, 1}, true},
		{"lower edge inclusive", Position{-1, -1}, Index{0, 0}, true},
		{"upper x edge exclusive", Position{1, 0}, Index{}, false},
		{"upper y edge exclusive", Position{0, 1}, Index{}, false},
		{"both upper edges", Position{1, 1}, Index{}, false},
		{"just below upper edge", Position{0.999, 0.999}, Index{1, 1}, true},
		{"below lower edge", Position{-1.001, 0}, Index{}, false},
		{"far away", Position{10, 10}, Index{}, false},
		{"nan", Position{math.NaN(), 0}, Index{}, false},
		{"inf", Position{math.Inf(1), 0}, Index{}, false},
		{"huge negative", Position{-1e300, 0}, Index{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PositionToIndex(tt.pos, length, 1.0)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("index = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPositionToIndex_Deterministic(t *testing.T) {
	pos := Position{0.123, -0.456}
	first, ok1 := PositionToIndex(pos, Length{3, 3}, 0.01)
	for i := 0; i < 100; i++ {
		got, ok := PositionToIndex(pos, Length{3, 3}, 0.01)
		if got != first || ok != ok1 {
			t.Fatalf("iteration %d: got %+v/%v, want %+v/%v", i, got, ok, first, ok1)
		}
	}
}

func TestGrid_IndexMatchesFreeFunction(t *testing.T) {
	g, err := New(Length{3, 2}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	pos := Position{-1.2, 0.7}
	a, okA := g.Index(pos)
	b, okB := PositionToIndex(pos, Length{3, 2}, 0.5)
	if a != b || okA != okB {
		t.Errorf("Grid.Index = %+v/%v, PositionToIndex = %+v/%v", a, okA, b, okB)
	}
}
