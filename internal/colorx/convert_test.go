package colorx

import (
	"math"
	"testing"
)

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		h, s, v float64
	}{
		{name: "black", r: 0, g: 0, b: 0, h: 0, s: 0, v: 0},
		{name: "white", r: 255, g: 255, b: 255, h: 0, s: 0, v: 100},
		{name: "red", r: 255, g: 0, b: 0, h: 0, s: 100, v: 100},
		{name: "green", r: 0, g: 255, b: 0, h: 120, s: 100, v: 100},
		{name: "blue", r: 0, g: 0, b: 255, h: 240, s: 100, v: 100},
		{name: "half_gray", r: 128, g: 128, b: 128, h: 0, s: 0, v: 50.196},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := RGBToHSV(tt.r, tt.g, tt.b)
			if math.Abs(h-tt.h) > 0.01 || math.Abs(s-tt.s) > 0.01 || math.Abs(v-tt.v) > 0.01 {
				t.Errorf("RGBToHSV(%d,%d,%d) = (%.2f, %.2f, %.2f), want (%.2f, %.2f, %.2f)",
					tt.r, tt.g, tt.b, h, s, v, tt.h, tt.s, tt.v)
			}
		})
	}
}

func TestHSVToRGBRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
	}{
		{name: "red", r: 255, g: 0, b: 0},
		{name: "green", r: 0, g: 255, b: 0},
		{name: "blue", r: 0, g: 0, b: 255},
		{name: "warm_white", r: 255, g: 249, b: 216},
		{name: "dim_purple", r: 60, g: 10, b: 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := RGBToHSV(tt.r, tt.g, tt.b)
			r, g, b := HSVToRGB(h, s, v)
			if absDiff(r, tt.r) > 1 || absDiff(g, tt.g) > 1 || absDiff(b, tt.b) > 1 {
				t.Errorf("round trip (%d,%d,%d) -> (%d,%d,%d)", tt.r, tt.g, tt.b, r, g, b)
			}
		})
	}
}

func TestHSToRGBFullValue(t *testing.T) {
	r, g, b := HSToRGB(0, 100)
	if r != 255 || g != 0 || b != 0 {
		t.Errorf("HSToRGB(0, 100) = (%d,%d,%d), want pure red", r, g, b)
	}
}

func TestKelvinToRGB(t *testing.T) {
	tests := []struct {
		name   string
		kelvin int
		warm   bool // red channel should dominate blue
	}{
		{name: "candle_2000k", kelvin: 2000, warm: true},
		{name: "warm_2700k", kelvin: 2700, warm: true},
		{name: "cool_10000k", kelvin: 10000, warm: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, b := KelvinToRGB(tt.kelvin)
			if tt.warm && r <= b {
				t.Errorf("KelvinToRGB(%d) = r=%d b=%d, want warm (r > b)", tt.kelvin, r, b)
			}
			if !tt.warm && b < 250 {
				t.Errorf("KelvinToRGB(%d) blue = %d, want near full", tt.kelvin, b)
			}
		})
	}
}

func TestKelvinNeutralIsNearWhite(t *testing.T) {
	r, g, b := KelvinToRGB(6600)
	if r < 240 || g < 240 || b < 240 {
		t.Errorf("KelvinToRGB(6600) = (%d,%d,%d), want near white", r, g, b)
	}
}

func absDiff(a, b uint8) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
