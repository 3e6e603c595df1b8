package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineEquatorDegree(t *testing.T) {
	// one degree of longitude on the equator is ~111.19 km
	d := Haversine(0, 0, 0, 1)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(40.7128, -74.0060, 34.0522, -118.2437)
	b := Haversine(34.0522, -118.2437, 40.7128, -74.0060)
	if a != b {
		t.Fatalf("distance not symmetric: %f vs %f", a, b)
	}
}
