package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dokzlo13/colornotifyd/internal/sequence"
)

// DefaultPriority is assigned to notifications that carry no priority.
const DefaultPriority = 1000.0

// PatternResolver maps a named pattern reference ("@name") to pattern items.
// Implemented by the Lua pattern registry; nil disables references.
type PatternResolver interface {
	Resolve(name string) ([]sequence.Item, bool)
}

// Attributes is the typed record for inbound notification payloads.
// Every field is optional; missing or garbled values fall back to the
// documented defaults in one place (BuildRunner).
type Attributes struct {
	Pattern       []string `mapstructure:"pattern"`
	RGBColor      []int    `mapstructure:"rgb_color"`
	Priority      *float64 `mapstructure:"priority"`
	ExpireEnabled bool     `mapstructure:"expire_enabled"`
	ExpireSeconds *float64 `mapstructure:"expire_seconds"`
	PeekEnabled   *bool    `mapstructure:"peek_enabled"`
}

// DecodeAttributes converts a loose payload map into Attributes. Unknown
// keys are ignored; numeric types are coerced.
func DecodeAttributes(raw map[string]any) (Attributes, error) {
	var attrs Attributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &attrs,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return attrs, fmt.Errorf("failed to build attribute decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return attrs, fmt.Errorf("failed to decode notification attributes: %w", err)
	}
	return attrs, nil
}

// BuildRunner turns decoded attributes into a runner for the given
// notification key. Defaults: a single-step static color pattern, priority
// 1000, peek enabled.
func (a Attributes) BuildRunner(key string, resolver PatternResolver) (*Runner, error) {
	pattern, err := a.patternItems(resolver)
	if err != nil {
		return nil, err
	}

	priority := DefaultPriority
	if a.Priority != nil {
		priority = *a.Priority
	}

	peek := true
	if a.PeekEnabled != nil {
		peek = *a.PeekEnabled
	}

	var clearDelay *time.Duration
	if a.ExpireEnabled {
		d := time.Duration(0)
		if a.ExpireSeconds != nil {
			d = time.Duration(*a.ExpireSeconds * float64(time.Second))
		}
		clearDelay = &d
	}

	return NewRunner(pattern, priority, key, clearDelay, peek)
}

// TurnOnParams carries the optional color parameters of a virtual light
// turn-on or toggle command.
type TurnOnParams struct {
	RGBColor        []int     `mapstructure:"rgb_color"`
	HSColor         []float64 `mapstructure:"hs_color"`
	ColorTempKelvin *int      `mapstructure:"color_temp_kelvin"`
	Brightness      *int      `mapstructure:"brightness"`
}

func decodeTurnOnParams(raw map[string]any) (TurnOnParams, error) {
	var params TurnOnParams
	if raw == nil {
		return params, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return params, fmt.Errorf("failed to build turn_on decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return params, fmt.Errorf("failed to decode turn_on parameters: %w", err)
	}
	return params, nil
}

func (a Attributes) patternItems(resolver PatternResolver) ([]sequence.Item, error) {
	if len(a.Pattern) == 0 {
		rgb := sequence.WarmWhite
		if len(a.RGBColor) == 3 {
			rgb = sequence.RGB{uint8(a.RGBColor[0]), uint8(a.RGBColor[1]), uint8(a.RGBColor[2])}
		}
		return []sequence.Item{sequence.ColorItem(sequence.NewColor(rgb, sequence.DefaultBrightness))}, nil
	}

	// A single "@name" entry references a registered pattern script.
	if len(a.Pattern) == 1 && strings.HasPrefix(a.Pattern[0], "@") {
		name := strings.TrimPrefix(a.Pattern[0], "@")
		if resolver == nil {
			return nil, fmt.Errorf("pattern reference %q but no resolver configured", a.Pattern[0])
		}
		items, ok := resolver.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("unknown pattern reference %q", a.Pattern[0])
		}
		return items, nil
	}

	items := make([]sequence.Item, 0, len(a.Pattern))
	for _, text := range a.Pattern {
		items = append(items, sequence.TextItem(text))
	}
	return items, nil
}
