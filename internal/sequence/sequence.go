// Package sequence implements the color animation engine: patterns are
// compiled into step lists (set-color, delay, open-loop, close-loop) that
// are executed one step at a time, yielding a current color.
package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Item is one entry of a pattern: either an explicit color or a text token.
// Text tokens are the loop markers "[" / "],N" or a JSON-ish step fragment
// with optional keys rgb/rgb_color, kelvin, brightness, transition, delay.
type Item struct {
	Color *ColorInfo
	Text  string
	// Delay is a pause in seconds after the color is applied; only
	// meaningful on color items.
	Delay float64
}

// ColorItem wraps an explicit color as a pattern item.
func ColorItem(c ColorInfo) Item {
	return Item{Color: &c}
}

// DelayedColorItem wraps a color followed by a pause of delay seconds, the
// structured equivalent of the "..., delay" text form.
func DelayedColorItem(c ColorInfo, delay float64) Item {
	return Item{Color: &c, Delay: delay}
}

// TextItem wraps a text token as a pattern item.
func TextItem(s string) Item {
	return Item{Text: s}
}

// Sequence is a compiled, steppable program of color steps.
type Sequence struct {
	steps        []step
	ws           workspace
	loopsForever bool
}

// workspace holds the execution state of a sequence.
type workspace struct {
	nextIdx int
	loops   map[int]*loopInfo
	color   ColorInfo
}

// loopInfo is the per-loop record created when an open-loop step runs.
type loopInfo struct {
	openIdx int
	count   int
}

type step interface {
	execute(ctx context.Context, ws *workspace) error
}

// stepSpec mirrors the JSON-ish step fragment of the pattern mini-language.
type stepSpec struct {
	RGB        []int    `json:"rgb"`
	RGBColor   []int    `json:"rgb_color"`
	Kelvin     *int     `json:"kelvin"`
	Brightness *int     `json:"brightness"`
	Transition *float64 `json:"transition"`
	Delay      *float64 `json:"delay"`
}

// Compile turns a pattern into an executable Sequence. Loop markers must be
// balanced with stack discipline; errors identify the offending 1-based
// pattern entry.
func Compile(pattern []Item) (*Sequence, error) {
	seq := &Sequence{
		ws: workspace{loops: make(map[int]*loopInfo)},
	}

	type openLoop struct {
		loopID   int
		entryIdx int // 1-based pattern entry, for error reporting
	}

	var initialColor *ColorInfo
	var loopStack []openLoop
	nextLoopID := 1

	for idx, item := range pattern {
		if item.Color != nil {
			c := *item.Color
			if initialColor == nil {
				initialColor = &c
			}
			seq.addStep(&setColorStep{color: c})
			if item.Delay > 0 {
				seq.addStep(&delayStep{delay: time.Duration(item.Delay * float64(time.Second))})
			}
			continue
		}

		text := strings.TrimSpace(item.Text)
		switch {
		case text == "[":
			seq.addStep(&openLoopStep{loopID: nextLoopID})
			loopStack = append(loopStack, openLoop{loopID: nextLoopID, entryIdx: idx + 1})
			nextLoopID++

		case strings.HasPrefix(text, "]"):
			repeats := -1
			if _, suffix, found := strings.Cut(text, ","); found {
				n, err := parseRepeatCount(suffix)
				if err != nil {
					return nil, fmt.Errorf("entry #%d: %w: %w", idx+1, ErrMalformedStep, err)
				}
				repeats = n
			}
			if repeats < 0 {
				seq.loopsForever = true
			}
			if len(loopStack) == 0 {
				return nil, fmt.Errorf("entry #%d: %w", idx+1, ErrNoOpenLoop)
			}
			open := loopStack[len(loopStack)-1]
			loopStack = loopStack[:len(loopStack)-1]
			seq.addStep(&closeLoopStep{loopID: open.loopID, totalRepeats: repeats})

		default:
			color, delay, err := parseColorStep(text)
			if err != nil {
				return nil, fmt.Errorf("entry #%d: %w", idx+1, err)
			}
			if initialColor == nil {
				initialColor = &color
			}
			seq.addStep(&setColorStep{color: color})
			if delay > 0 {
				seq.addStep(&delayStep{delay: delay})
			}
		}
	}

	if len(loopStack) > 0 {
		return nil, fmt.Errorf("entry #%d: %w", loopStack[0].entryIdx, ErrUnclosedLoop)
	}

	if initialColor != nil {
		seq.ws.color = *initialColor
	} else {
		seq.ws.color = dimOff()
	}
	return seq, nil
}

// parseColorStep parses a JSON-ish step fragment. Surrounding braces are
// optional; rgb wins over kelvin when both are present.
func parseColorStep(text string) (ColorInfo, time.Duration, error) {
	jsonText := "{" + strings.Trim(strings.TrimSpace(text), "{}") + "}"

	var spec stepSpec
	if err := json.Unmarshal([]byte(jsonText), &spec); err != nil {
		return ColorInfo{}, 0, fmt.Errorf("%w: %w", ErrMalformedStep, err)
	}

	rgb := spec.RGBColor
	if rgb == nil {
		rgb = spec.RGB
	}
	if rgb == nil && spec.Kelvin == nil {
		return ColorInfo{}, 0, ErrMissingColor
	}

	color := ColorInfo{
		RGB:                WarmWhite,
		Brightness:         DefaultBrightness,
		Transition:         spec.Transition,
		ExplicitBrightness: spec.Brightness,
	}
	if rgb != nil {
		if len(rgb) != 3 {
			return ColorInfo{}, 0, fmt.Errorf("%w: rgb must have 3 components", ErrMalformedStep)
		}
		color.RGB = RGB{clampChannel(float64(rgb[0])), clampChannel(float64(rgb[1])), clampChannel(float64(rgb[2]))}
	} else {
		color.Kelvin = spec.Kelvin
	}

	var delay time.Duration
	if spec.Delay != nil && *spec.Delay > 0 {
		delay = time.Duration(*spec.Delay * float64(time.Second))
	}
	return color, delay, nil
}

func parseRepeatCount(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err != nil {
		return 0, fmt.Errorf("bad repeat count %q", s)
	}
	return n, nil
}

func (s *Sequence) addStep(st step) {
	switch v := st.(type) {
	case *setColorStep:
		v.idx = len(s.steps)
	case *openLoopStep:
		v.idx = len(s.steps)
	case *closeLoopStep:
		v.idx = len(s.steps)
	case *delayStep:
		v.idx = len(s.steps)
	}
	s.steps = append(s.steps, st)
}

// RunNextStep executes the next step and reports whether the sequence is now
// exhausted. Calling it on an exhausted sequence is a no-op returning done.
// Delay steps suspend on the provided context.
func (s *Sequence) RunNextStep(ctx context.Context) (done bool, err error) {
	if s.ws.nextIdx >= len(s.steps) {
		return true, nil
	}
	next := s.steps[s.ws.nextIdx]
	s.ws.nextIdx++
	if err := next.execute(ctx, &s.ws); err != nil {
		return false, err
	}
	return s.ws.nextIdx >= len(s.steps), nil
}

// Color returns a copy of the sequence's current color.
func (s *Sequence) Color() ColorInfo {
	return s.ws.color
}

// SetColor overrides the sequence's current color.
func (s *Sequence) SetColor(c ColorInfo) {
	s.ws.color = c
}

// LoopsForever reports whether the sequence contains an unbounded loop.
func (s *Sequence) LoopsForever() bool {
	return s.loopsForever
}

// Len returns the number of compiled steps.
func (s *Sequence) Len() int {
	return len(s.steps)
}

type setColorStep struct {
	idx   int
	color ColorInfo
}

func (st *setColorStep) execute(_ context.Context, ws *workspace) error {
	// Copy so later mutation of the workspace color never touches the
	// step's template.
	ws.color = st.color
	return nil
}

type openLoopStep struct {
	idx    int
	loopID int
}

func (st *openLoopStep) execute(_ context.Context, ws *workspace) error {
	if _, ok := ws.loops[st.loopID]; !ok {
		ws.loops[st.loopID] = &loopInfo{openIdx: st.idx}
	}
	return nil
}

type closeLoopStep struct {
	idx          int
	loopID       int
	totalRepeats int
}

func (st *closeLoopStep) execute(_ context.Context, ws *workspace) error {
	info, ok := ws.loops[st.loopID]
	if !ok {
		return ErrLoopNotOpened
	}
	info.count++
	if st.totalRepeats < 0 || info.count < st.totalRepeats {
		ws.nextIdx = info.openIdx
	} else {
		delete(ws.loops, st.loopID)
	}
	return nil
}

type delayStep struct {
	idx   int
	delay time.Duration
}

func (st *delayStep) execute(ctx context.Context, _ *workspace) error {
	timer := time.NewTimer(st.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
