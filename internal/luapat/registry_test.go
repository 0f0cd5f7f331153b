package luapat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/colornotifyd/internal/sequence"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "alert.lua", `
return {
    "[",
    { rgb = {255, 0, 0}, delay = 0.5 },
    { rgb = {0, 0, 0}, brightness = 0, delay = 0.5 },
    "], 3",
}
`)
	writeScript(t, dir, "steady.lua", `
local color = { rgb = {0, 128, 255} }
return { color }
`)
	writeScript(t, dir, "notes.txt", "not a pattern")

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "alert" || names[1] != "steady" {
		t.Fatalf("Names() = %v, want [alert steady]", names)
	}

	items, ok := r.Resolve("alert")
	if !ok {
		t.Fatal("Resolve(alert) = false")
	}
	// open marker, two delayed colors, close marker
	if len(items) != 4 {
		t.Fatalf("alert has %d items, want 4", len(items))
	}
	if items[0].Text != "[" {
		t.Errorf("first item = %+v, want loop open marker", items[0])
	}
	if items[1].Color == nil || items[1].Color.RGB != (sequence.RGB{255, 0, 0}) {
		t.Errorf("second item = %+v, want red color", items[1])
	}
	if items[1].Delay != 0.5 {
		t.Errorf("second item delay = %v, want 0.5", items[1].Delay)
	}

	steady, ok := r.Resolve("steady")
	if !ok || len(steady) != 1 {
		t.Fatalf("Resolve(steady) = %v, %v", steady, ok)
	}
	if steady[0].Color.Brightness != sequence.DefaultBrightness {
		t.Errorf("brightness = %v, want default", steady[0].Color.Brightness)
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Error("Resolve(missing) = true")
	}
}

func TestLoadKelvinStep(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "warm.lua", `return { { kelvin = 2700, brightness = 80 } }`)

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	items, _ := r.Resolve("warm")
	if items[0].Color.Kelvin == nil || *items[0].Color.Kelvin != 2700 {
		t.Errorf("kelvin = %v, want 2700", items[0].Color.Kelvin)
	}
	if items[0].Color.Brightness != 80 {
		t.Errorf("brightness = %v, want 80", items[0].Color.Brightness)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"not_a_table", `return "just a string"`},
		{"empty_table", `return {}`},
		{"bad_rgb", `return { { rgb = {1, 2} } }`},
		{"rgb_out_of_range", `return { { rgb = {0, 0, 300} } }`},
		{"unbalanced_loop", `return { "[", { rgb = {1, 2, 3} } }`},
		{"syntax_error", `return {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeScript(t, dir, "bad.lua", tt.script)
			if _, err := Load(dir); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestLoadMissingDir(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load() error = %v for missing dir", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("Names() = %v, want empty", r.Names())
	}

	// Empty dir config disables pattern scripts entirely
	r, err = Load("")
	if err != nil || len(r.Names()) != 0 {
		t.Errorf("Load(\"\") = %v, %v", r.Names(), err)
	}
}
