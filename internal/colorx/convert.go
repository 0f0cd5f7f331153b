// Package colorx provides the color space conversions used to normalize
// turn-on requests: RGB<->HSV on the Home-Assistant-style scales
// (hue 0-360, saturation 0-100, value 0-100) and color temperature to RGB.
package colorx

import "math"

// RGBToHSV converts 0-255 rgb channels to hue (0-360), saturation (0-100)
// and value (0-100).
func RGBToHSV(r, g, b uint8) (h, s, v float64) {
	rf := float64(r) / 255.0
	gf := float64(g) / 255.0
	bf := float64(b) / 255.0

	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	v = max * 100

	if max == 0 {
		return 0, 0, 0
	}
	s = delta / max * 100

	if delta == 0 {
		return 0, s, v
	}
	switch max {
	case rf:
		h = math.Mod((gf-bf)/delta, 6)
	case gf:
		h = (bf-rf)/delta + 2
	default:
		h = (rf-gf)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// HSVToRGB converts hue (0-360), saturation (0-100) and value (0-100) to
// 0-255 rgb channels.
func HSVToRGB(h, s, v float64) (r, g, b uint8) {
	sf := s / 100
	vf := v / 100

	if sf == 0 {
		val := clamp255(vf * 255)
		return val, val, val
	}

	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i
	p := vf * (1 - sf)
	q := vf * (1 - sf*f)
	t := vf * (1 - sf*(1-f))

	var rf, gf, bf float64
	switch int(i) {
	case 0:
		rf, gf, bf = vf, t, p
	case 1:
		rf, gf, bf = q, vf, p
	case 2:
		rf, gf, bf = p, vf, t
	case 3:
		rf, gf, bf = p, q, vf
	case 4:
		rf, gf, bf = t, p, vf
	default:
		rf, gf, bf = vf, p, q
	}
	return clamp255(rf * 255), clamp255(gf * 255), clamp255(bf * 255)
}

// HSToRGB converts hue (0-360) and saturation (0-100) at full value.
func HSToRGB(h, s float64) (r, g, b uint8) {
	return HSVToRGB(h, s, 100)
}

// KelvinToRGB approximates the RGB rendering of a color temperature in
// kelvin (valid roughly 1000-40000K), using the Tanner Helland polynomial
// fit commonly used for light bulbs.
func KelvinToRGB(kelvin int) (r, g, b uint8) {
	temp := float64(kelvin) / 100

	var rf, gf, bf float64
	if temp <= 66 {
		rf = 255
		gf = 99.4708025861*math.Log(temp) - 161.1195681661
	} else {
		rf = 329.698727446 * math.Pow(temp-60, -0.1332047592)
		gf = 288.1221695283 * math.Pow(temp-60, -0.0755148492)
	}

	switch {
	case temp >= 66:
		bf = 255
	case temp <= 19:
		bf = 0
	default:
		bf = 138.5177312231*math.Log(temp-10) - 305.0447927307
	}

	return clamp255(rf), clamp255(gf), clamp255(bf)
}

func clamp255(v float64) uint8 {
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(math.Round(v))
}
