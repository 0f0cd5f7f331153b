// Package luapat loads named pattern scripts written in Lua. Each *.lua
// file in the patterns directory returns an array of steps; the file's base
// name becomes the pattern name, referenced from notifications as "@name".
//
// A step is either a string in the notification pattern syntax (including
// loop markers "[" and "], N") or a table with the keys rgb = {r, g, b},
// kelvin, brightness, transition and delay.
//
// Scripts are evaluated once at load time and reduced to plain pattern
// items, so resolving never touches the Lua VM.
package luapat

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/colornotifyd/internal/sequence"
)

// Registry holds the loaded patterns. Safe for concurrent resolution.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string][]sequence.Item
}

// Load evaluates all *.lua files in dir and returns a registry of compiled
// patterns. A script that fails to evaluate or produces an uncompilable
// pattern fails the whole load; a missing directory yields an empty registry.
func Load(dir string) (*Registry, error) {
	r := &Registry{patterns: make(map[string][]sequence.Item)}
	if dir == "" {
		return r, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		log.Warn().Str("dir", dir).Msg("Pattern directory does not exist")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		items, err := loadScript(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		// Compile once so malformed scripts fail at startup, not at the
		// first notification referencing them
		if _, err := sequence.Compile(items); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		r.patterns[name] = items
		log.Debug().Str("pattern", name).Int("steps", len(items)).Msg("Loaded pattern script")
	}

	log.Info().Str("dir", dir).Int("patterns", len(r.patterns)).Msg("Pattern scripts loaded")
	return r, nil
}

// Resolve returns the pattern items registered under name.
func (r *Registry) Resolve(name string) ([]sequence.Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items, ok := r.patterns[name]
	return items, ok
}

// Names returns the registered pattern names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.patterns))
	for name := range r.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadScript(path string) ([]sequence.Item, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("script must return a table, got %s", ret.Type())
	}

	var items []sequence.Item
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		item, err := stepToItem(v)
		if err != nil {
			convErr = fmt.Errorf("step %s: %w", k.String(), err)
			return
		}
		items = append(items, item)
	})
	if convErr != nil {
		return nil, convErr
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("script returned no steps")
	}
	return items, nil
}

func stepToItem(v lua.LValue) (sequence.Item, error) {
	switch step := v.(type) {
	case lua.LString:
		return sequence.TextItem(string(step)), nil
	case *lua.LTable:
		return tableToColorItem(step)
	default:
		return sequence.Item{}, fmt.Errorf("expected string or table, got %s", v.Type())
	}
}

func tableToColorItem(tbl *lua.LTable) (sequence.Item, error) {
	rgb := sequence.WarmWhite
	brightness := sequence.DefaultBrightness

	if rgbVal := tbl.RawGetString("rgb"); rgbVal != lua.LNil {
		rgbTbl, ok := rgbVal.(*lua.LTable)
		if !ok || rgbTbl.Len() != 3 {
			return sequence.Item{}, fmt.Errorf("rgb must be a table of 3 numbers")
		}
		var channels [3]uint8
		for i := 1; i <= 3; i++ {
			num, ok := rgbTbl.RawGetInt(i).(lua.LNumber)
			if !ok {
				return sequence.Item{}, fmt.Errorf("rgb component %d is not a number", i)
			}
			if num < 0 || num > 255 {
				return sequence.Item{}, fmt.Errorf("rgb component %d out of range: %v", i, num)
			}
			channels[i-1] = uint8(num)
		}
		rgb = sequence.RGB(channels)
	}

	if b, ok := tbl.RawGetString("brightness").(lua.LNumber); ok {
		brightness = float64(b)
	}

	color := sequence.NewColor(rgb, brightness)
	if k, ok := tbl.RawGetString("kelvin").(lua.LNumber); ok {
		kelvin := int(k)
		color.Kelvin = &kelvin
	}
	if tr, ok := tbl.RawGetString("transition").(lua.LNumber); ok {
		transition := float64(tr)
		color.Transition = &transition
	}
	if d, ok := tbl.RawGetString("delay").(lua.LNumber); ok && d > 0 {
		// A delay on a color step expands to the step followed by a pause,
		// same as the "..., delay" form of the text syntax
		delay := float64(d)
		return sequence.DelayedColorItem(color, delay), nil
	}
	return sequence.ColorItem(color), nil
}
