// Package wrapped tracks the real wrapped light's reported state so it can
// be restored after notifications clear. The tracker observes state events,
// freezes when the first notification of a batch begins and derives a
// minimal turn-on parameter set from the color mode recorded at freeze time.
// It never sends commands; the caller decides when and what to send.
package wrapped

import "sync"

// State attribute names, matching the device layer's wire contract.
const (
	AttrBrightness = "brightness"
	AttrColorMode  = "color_mode"
	AttrColorTemp  = "color_temp"
	AttrRGBColor   = "rgb_color"
	AttrHSColor    = "hs_color"
	AttrXYColor    = "xy_color"
)

// Color modes where a given attribute is the primary color attribute.
var (
	colorTempModes = map[string]bool{"color_temp": true}
	xyModes        = map[string]bool{"xy": true}
	hsModes        = map[string]bool{"hs": true}
	rgbModes       = map[string]bool{"rgb": true, "rgbw": true, "rgbww": true}
)

// Snapshot is one observed state of the wrapped light.
type Snapshot struct {
	State      string `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// State tracks the wrapped light's actual state with a freeze latch.
// Safe for concurrent use: state events arrive from the transport goroutine
// while the worker loop freezes and reads restore parameters.
type State struct {
	mu     sync.Mutex
	state  string
	attrs  map[string]any
	seen   bool
	frozen bool
}

// New creates an empty tracker.
func New() *State {
	return &State{attrs: make(map[string]any)}
}

// Update records an observed state. Ignored while frozen.
func (s *State) Update(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.state = snap.State
	s.seen = true
	s.attrs = make(map[string]any, len(snap.Attributes))
	for k, v := range snap.Attributes {
		s.attrs[k] = v
	}
}

// Freeze captures the current state for restore. Idempotent.
func (s *State) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Unfreeze resumes tracking state changes.
func (s *State) Unfreeze() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// IsOn reports whether the tracked state is "on".
func (s *State) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == "on"
}

// HasState reports whether any state has been observed yet.
func (s *State) HasState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

// IsFrozen reports whether the tracker is currently frozen.
func (s *State) IsFrozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// RestoreParams returns the turn_on parameters that restore the wrapped
// light to the tracked state. Empty when the light was off or never seen;
// the caller must then issue turn_off instead of turn_on. Missing data
// degrades to smaller parameter sets, never to an error.
func (s *State) RestoreParams() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := make(map[string]any)
	if s.state != "on" {
		return params
	}

	if brightness, ok := s.attrs[AttrBrightness]; ok && brightness != nil {
		params[AttrBrightness] = brightness
	}

	if attr := s.colorAttrForMode(); attr != "" {
		if value, ok := s.attrs[attr]; ok && value != nil {
			params[attr] = value
		}
	}
	return params
}

// colorAttrForMode returns the attribute name holding the color for the
// tracked color mode. Unknown modes probe the known attributes in order.
// Callers must hold s.mu.
func (s *State) colorAttrForMode() string {
	mode, _ := s.attrs[AttrColorMode].(string)
	switch {
	case colorTempModes[mode]:
		return AttrColorTemp
	case xyModes[mode]:
		if s.attrs[AttrXYColor] != nil {
			return AttrXYColor
		}
		if s.attrs[AttrHSColor] != nil {
			return AttrHSColor
		}
		return ""
	case hsModes[mode]:
		return AttrHSColor
	case rgbModes[mode]:
		return AttrRGBColor
	}

	for _, attr := range []string{AttrRGBColor, AttrHSColor, AttrXYColor, AttrColorTemp} {
		if s.attrs[attr] != nil {
			return attr
		}
	}
	return ""
}
