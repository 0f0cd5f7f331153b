package notify

import (
	"context"
	"testing"
	"time"

	"github.com/dokzlo13/colornotifyd/internal/sequence"
)

func TestRunnerLifecycle(t *testing.T) {
	run, err := NewRunner(
		[]sequence.Item{
			sequence.ColorItem(sequence.NewColor(sequence.RGB{255, 0, 0}, 100)),
			sequence.ColorItem(sequence.NewColor(sequence.RGB{0, 255, 0}, 100)),
		},
		1000, "notify.a", nil, true,
	)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	// Initial color comes from compilation, before any animation runs
	if got := run.Color().RGB; got != (sequence.RGB{255, 0, 0}) {
		t.Errorf("initial color = %v, want red", got)
	}
	if run.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}

	wake := make(chan struct{}, 1)
	exited := make(chan struct{})
	run.Start(context.Background(), wake, func(*Runner) { close(exited) })

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("animation did not finish")
	}
	if run.IsRunning() {
		t.Error("IsRunning() = true after animation finished")
	}
	if got := run.Color().RGB; got != (sequence.RGB{0, 255, 0}) {
		t.Errorf("final color = %v, want green", got)
	}
	select {
	case <-wake:
	default:
		t.Error("no wake pulse from animation steps")
	}
}

func TestRunnerStopBeforeStart(t *testing.T) {
	run, err := NewRunner(
		[]sequence.Item{sequence.ColorItem(sequence.NewColor(sequence.RGB{255, 0, 0}, 100))},
		1000, "notify.a", nil, true,
	)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	// Stop on a never-started runner must not panic
	run.RequestStop()
	run.RequestStop()
}

func TestRunnerRestartRereadsPattern(t *testing.T) {
	run, err := NewRunner(
		[]sequence.Item{
			sequence.ColorItem(sequence.NewColor(sequence.RGB{255, 0, 0}, 100)),
			sequence.ColorItem(sequence.NewColor(sequence.RGB{0, 255, 0}, 100)),
		},
		1000, "notify.a", nil, true,
	)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		wake := make(chan struct{}, 1)
		exited := make(chan struct{})
		run.Start(context.Background(), wake, func(*Runner) { close(exited) })
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d did not finish", i)
		}
		if got := run.Color().RGB; got != (sequence.RGB{0, 255, 0}) {
			t.Errorf("run %d final color = %v, want green", i, got)
		}
	}
}
