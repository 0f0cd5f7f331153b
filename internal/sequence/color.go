package sequence

import "math"

// RGB is a red/green/blue triple in the 0-255 range.
type RGB [3]uint8

// Well-known colors used as defaults across the engine.
var (
	// WarmWhite is the default color when a step specifies no rgb value.
	WarmWhite = RGB{255, 249, 216}
	// Off is black, meaning "turn the light off".
	Off = RGB{0, 0, 0}
)

// DefaultBrightness is the internal brightness assumed when a color does not
// carry one. Internal brightness is on the 0-255 scale.
const DefaultBrightness = 100.0

// Parameter keys for device turn_on calls. These names are part of the wire
// contract with the device layer and must not change.
const (
	ParamRGBColor        = "rgb_color"
	ParamColorTempKelvin = "color_temp_kelvin"
	ParamBrightness      = "brightness"
	ParamTransition      = "transition"
)

// ColorInfo is the internal color representation for a single animation step.
// Kelvin takes precedence over RGB for rendering unless the step explicitly
// supplied rgb (the compiler enforces that by leaving Kelvin nil).
type ColorInfo struct {
	RGB        RGB
	Brightness float64
	Kelvin     *int
	Transition *float64
	// ExplicitBrightness is a user-supplied brightness from the step
	// definition. Unlike Brightness it is passed through to the device.
	ExplicitBrightness *int
}

// NewColor returns a ColorInfo with the given rgb and internal brightness.
func NewColor(rgb RGB, brightness float64) ColorInfo {
	return ColorInfo{RGB: rgb, Brightness: brightness}
}

// dimOff is the color of an empty sequence: black at zero brightness.
func dimOff() ColorInfo {
	return ColorInfo{RGB: Off, Brightness: 0}
}

// Equal reports whether two colors would produce identical device commands.
func (c ColorInfo) Equal(other ColorInfo) bool {
	if c.RGB != other.RGB || c.Brightness != other.Brightness {
		return false
	}
	if !intPtrEqual(c.Kelvin, other.Kelvin) {
		return false
	}
	if !floatPtrEqual(c.Transition, other.Transition) {
		return false
	}
	return intPtrEqual(c.ExplicitBrightness, other.ExplicitBrightness)
}

// InterpolatedTo returns a new color linearly interpolated between c and end.
// Amount is 0-1.0. If both colors have kelvin set, kelvin and brightness are
// interpolated; otherwise the (r,g,b,brightness) tuple is interpolated
// component-wise with truncation toward zero. ExplicitBrightness is carried
// from the start point and Transition is dropped.
func (c ColorInfo) InterpolatedTo(end ColorInfo, amount float64) ColorInfo {
	if c.Kelvin != nil && end.Kelvin != nil {
		k := int(float64(*c.Kelvin) + float64(*end.Kelvin-*c.Kelvin)*amount)
		b := c.Brightness + (end.Brightness-c.Brightness)*amount
		return ColorInfo{
			RGB:                c.RGB,
			Brightness:         b,
			Kelvin:             &k,
			ExplicitBrightness: c.ExplicitBrightness,
		}
	}

	interp := func(a, b float64) float64 {
		return float64(int(a + (b-a)*amount))
	}
	return ColorInfo{
		RGB: RGB{
			uint8(interp(float64(c.RGB[0]), float64(end.RGB[0]))),
			uint8(interp(float64(c.RGB[1]), float64(end.RGB[1]))),
			uint8(interp(float64(c.RGB[2]), float64(end.RGB[2]))),
		},
		Brightness:         interp(c.Brightness, end.Brightness),
		ExplicitBrightness: c.ExplicitBrightness,
	}
}

// LightParams returns the parameter set for a device turn_on call. Exactly
// one of rgb_color / color_temp_kelvin is present, plus optional transition
// and brightness.
func (c ColorInfo) LightParams() map[string]any {
	params := make(map[string]any)
	if c.Kelvin != nil {
		params[ParamColorTempKelvin] = *c.Kelvin
	} else {
		params[ParamRGBColor] = c.RGB
	}
	if c.Transition != nil {
		params[ParamTransition] = *c.Transition
	}
	if c.ExplicitBrightness != nil {
		params[ParamBrightness] = *c.ExplicitBrightness
	}
	return params
}

// Mix blends colors with the given weights into a single color. Weights
// default to uniform and are normalized to sum to 1. Each channel and the
// brightness are averaged independently, rounded and clamped to 0-255.
//
// The scheduler currently displays only the single top sequence's color;
// Mix is kept as an overridable capability for blending same-priority
// notifications.
func Mix(colors []ColorInfo, weights []float64) ColorInfo {
	if weights == nil {
		weights = make([]float64, len(colors))
		for i := range weights {
			weights[i] = 1.0
		}
	}

	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}

	var r, g, b, brightness float64
	for i, color := range colors {
		w := weights[i] / totalWeight
		r += float64(color.RGB[0]) * w
		g += float64(color.RGB[1]) * w
		b += float64(color.RGB[2]) * w
		brightness += color.Brightness * w
	}

	return ColorInfo{
		RGB: RGB{
			clampChannel(r),
			clampChannel(g),
			clampChannel(b),
		},
		Brightness: math.Min(math.Round(brightness), 255),
	}
}

func clampChannel(v float64) uint8 {
	r := math.Round(v)
	if r > 255 {
		return 255
	}
	if r < 0 {
		return 0
	}
	return uint8(r)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
