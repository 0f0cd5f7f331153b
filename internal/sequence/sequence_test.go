package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// runToCompletion steps the sequence until done, returning every color value
// observed after each step. The limit guards against runaway loops.
func runToCompletion(t *testing.T, seq *Sequence, limit int) []ColorInfo {
	t.Helper()
	var colors []ColorInfo
	for i := 0; i < limit; i++ {
		done, err := seq.RunNextStep(context.Background())
		if err != nil {
			t.Fatalf("RunNextStep() error: %v", err)
		}
		colors = append(colors, seq.Color())
		if done {
			return colors
		}
	}
	t.Fatalf("sequence did not finish within %d steps", limit)
	return nil
}

func TestCompileSimpleColor(t *testing.T) {
	seq, err := Compile([]Item{TextItem(`{"rgb": [255, 0, 0]}`)})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	color := seq.Color()
	if color.RGB != (RGB{255, 0, 0}) {
		t.Errorf("initial color = %v, want [255 0 0]", color.RGB)
	}
	if color.Kelvin != nil {
		t.Errorf("kelvin = %v, want nil", *color.Kelvin)
	}
}

func TestCompileStepVariants(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantRGB *RGB
		wantKelvin *int
	}{
		{
			name:    "bare_fragment_without_braces",
			text:    `"rgb": [10, 20, 30]`,
			wantRGB: &RGB{10, 20, 30},
		},
		{
			name:    "rgb_color_key",
			text:    `{"rgb_color": [0, 0, 255]}`,
			wantRGB: &RGB{0, 0, 255},
		},
		{
			name:       "kelvin_defaults_rgb_to_warm_white",
			text:       `{"kelvin": 2700}`,
			wantRGB:    &WarmWhite,
			wantKelvin: intPtr(2700),
		},
		{
			name:    "rgb_wins_over_kelvin",
			text:    `{"rgb": [255, 0, 0], "kelvin": 2700}`,
			wantRGB: &RGB{255, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Compile([]Item{TextItem(tt.text)})
			if err != nil {
				t.Fatalf("Compile() error: %v", err)
			}
			color := seq.Color()
			if tt.wantRGB != nil && color.RGB != *tt.wantRGB {
				t.Errorf("rgb = %v, want %v", color.RGB, *tt.wantRGB)
			}
			if tt.wantKelvin == nil {
				if color.Kelvin != nil {
					t.Errorf("kelvin = %v, want nil", *color.Kelvin)
				}
			} else if color.Kelvin == nil || *color.Kelvin != *tt.wantKelvin {
				t.Errorf("kelvin = %v, want %d", color.Kelvin, *tt.wantKelvin)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name      string
		pattern   []Item
		wantErr   error
		wantEntry string // 1-based entry reference expected in the message
	}{
		{
			name:      "close_without_open",
			pattern:   []Item{TextItem(`{"rgb": [1,1,1]}`), TextItem("],2")},
			wantErr:   ErrNoOpenLoop,
			wantEntry: "entry #2",
		},
		{
			name:      "unclosed_loop",
			pattern:   []Item{TextItem(`{"rgb": [1,1,1]}`), TextItem("["), TextItem(`{"rgb": [2,2,2]}`)},
			wantErr:   ErrUnclosedLoop,
			wantEntry: "entry #2",
		},
		{
			name: "nested_unclosed_outer_loop",
			pattern: []Item{
				TextItem("["),
				TextItem("["),
				TextItem(`{"rgb": [1,1,1]}`),
				TextItem("],2"),
			},
			wantErr:   ErrUnclosedLoop,
			wantEntry: "entry #1",
		},
		{
			name:      "missing_color_field",
			pattern:   []Item{TextItem(`{"brightness": 100}`)},
			wantErr:   ErrMissingColor,
			wantEntry: "entry #1",
		},
		{
			name:      "malformed_json",
			pattern:   []Item{TextItem(`{"rgb": [255, 0`)},
			wantErr:   ErrMalformedStep,
			wantEntry: "entry #1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.pattern)
			if err == nil {
				t.Fatal("Compile() succeeded, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantEntry) {
				t.Errorf("error %q does not reference %s", err.Error(), tt.wantEntry)
			}
		})
	}
}

func TestLoopsForever(t *testing.T) {
	tests := []struct {
		name     string
		pattern  []Item
		expected bool
	}{
		{
			name:     "no_loop",
			pattern:  []Item{TextItem(`{"rgb": [1,1,1]}`)},
			expected: false,
		},
		{
			name:     "bounded_loop",
			pattern:  []Item{TextItem("["), TextItem(`{"rgb": [1,1,1]}`), TextItem("],3")},
			expected: false,
		},
		{
			name:     "infinite_loop_no_count",
			pattern:  []Item{TextItem("["), TextItem(`{"rgb": [1,1,1]}`), TextItem("]")},
			expected: true,
		},
		{
			name:     "infinite_loop_negative_count",
			pattern:  []Item{TextItem("["), TextItem(`{"rgb": [1,1,1]}`), TextItem("],-1")},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Compile(tt.pattern)
			if err != nil {
				t.Fatalf("Compile() error: %v", err)
			}
			if seq.LoopsForever() != tt.expected {
				t.Errorf("LoopsForever() = %v, want %v", seq.LoopsForever(), tt.expected)
			}
		})
	}
}

func TestLoopRunsExactlyNTimes(t *testing.T) {
	// Each iteration of ["[", color, "],N"] executes open, set-color and
	// close exactly once, so a full run takes 3*N steps and the set-color
	// step fires N times.
	for _, n := range []int{1, 2, 5} {
		seq, err := Compile([]Item{
			TextItem("["),
			TextItem(`{"rgb": [255, 0, 0]}`),
			TextItem(fmt.Sprintf("],%d", n)),
		})
		if err != nil {
			t.Fatalf("Compile() error: %v", err)
		}

		colors := runToCompletion(t, seq, 100)
		if len(colors) != 3*n {
			t.Errorf("n=%d: executed %d steps, want %d", n, len(colors), 3*n)
		}
		for i, c := range colors[1:] {
			if c.RGB != (RGB{255, 0, 0}) {
				t.Errorf("n=%d: step %d color = %v, want red", n, i+2, c.RGB)
			}
		}
	}
}

func TestRunNextStepIdempotentAfterDone(t *testing.T) {
	seq, err := Compile([]Item{TextItem(`{"rgb": [0, 255, 0]}`)})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	done, err := seq.RunNextStep(context.Background())
	if err != nil || !done {
		t.Fatalf("RunNextStep() = %v, %v; want done", done, err)
	}
	colorAtEnd := seq.Color()

	for i := 0; i < 3; i++ {
		done, err = seq.RunNextStep(context.Background())
		if err != nil || !done {
			t.Fatalf("RunNextStep() after done = %v, %v; want done, nil", done, err)
		}
		if !seq.Color().Equal(colorAtEnd) {
			t.Error("color mutated after sequence exhausted")
		}
	}
}

func TestEmptyPatternIsDimOffAndDone(t *testing.T) {
	seq, err := Compile(nil)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	color := seq.Color()
	if color.RGB != Off || color.Brightness != 0 {
		t.Errorf("empty sequence color = %v/%v, want off/0", color.RGB, color.Brightness)
	}
	done, err := seq.RunNextStep(context.Background())
	if err != nil || !done {
		t.Errorf("RunNextStep() = %v, %v; want done immediately", done, err)
	}
}

func TestColorItemPattern(t *testing.T) {
	seq, err := Compile([]Item{ColorItem(NewColor(RGB{42, 42, 42}, 100))})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if seq.Color().RGB != (RGB{42, 42, 42}) {
		t.Errorf("initial color = %v, want [42 42 42]", seq.Color().RGB)
	}
}

func TestDelayEmitsExtraStep(t *testing.T) {
	seq, err := Compile([]Item{TextItem(`{"rgb": [255, 0, 0], "delay": 0.001}`)})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if seq.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (set-color + delay)", seq.Len())
	}

	done, err := seq.RunNextStep(context.Background())
	if err != nil || done {
		t.Fatalf("first step: done=%v err=%v, want not done", done, err)
	}
	if seq.Color().RGB != (RGB{255, 0, 0}) {
		t.Errorf("color = %v, want red", seq.Color().RGB)
	}
	done, err = seq.RunNextStep(context.Background())
	if err != nil || !done {
		t.Fatalf("delay step: done=%v err=%v, want done", done, err)
	}
}

func TestZeroDelayIsOmitted(t *testing.T) {
	seq, err := Compile([]Item{TextItem(`{"rgb": [255, 0, 0], "delay": 0}`)})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if seq.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (falsy delay emits no step)", seq.Len())
	}
}

func TestEndToEndRedThenKelvin(t *testing.T) {
	seq, err := Compile([]Item{
		TextItem(`{"rgb":[255,0,0],"delay":0}`),
		TextItem(`{"kelvin":2700}`),
	})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	done, err := seq.RunNextStep(context.Background())
	if err != nil || done {
		t.Fatalf("step 1: done=%v err=%v", done, err)
	}
	if seq.Color().RGB != (RGB{255, 0, 0}) {
		t.Errorf("step 1 color = %v, want [255 0 0]", seq.Color().RGB)
	}

	done, err = seq.RunNextStep(context.Background())
	if err != nil || !done {
		t.Fatalf("step 2: done=%v err=%v, want done", done, err)
	}
	if seq.Color().Kelvin == nil || *seq.Color().Kelvin != 2700 {
		t.Errorf("step 2 kelvin = %v, want 2700", seq.Color().Kelvin)
	}
}

func TestSetColorCopiesTemplate(t *testing.T) {
	seq, err := Compile([]Item{
		TextItem("["),
		TextItem(`{"rgb": [0, 0, 255]}`),
		TextItem("],2"),
	})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	// Run open + set, then clobber the current color
	for i := 0; i < 2; i++ {
		if _, err := seq.RunNextStep(context.Background()); err != nil {
			t.Fatalf("RunNextStep() error: %v", err)
		}
	}
	seq.SetColor(NewColor(RGB{9, 9, 9}, 1))

	// Second loop iteration must restore the template color untouched
	runToCompletion(t, seq, 20)
	if seq.Color().RGB != (RGB{0, 0, 255}) {
		t.Errorf("final color = %v, want [0 0 255] from step template", seq.Color().RGB)
	}
}
