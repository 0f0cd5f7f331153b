package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/colornotifyd/internal/sequence"
)

// Reserved active-set keys for the base entries. All "is this the base
// entry" checks compare against the entry key, never against a runner's
// NotifyID.
const (
	KeyOff = "off"
	KeyOn  = "on"
)

// Runner is a running instance of a compiled color sequence: one
// notification (or base entry) queued on a light. Priority is owned by the
// worker loop; the animation goroutine only reports colors back.
type Runner struct {
	// Priority is mutated by the worker only (peek boost / restore).
	Priority float64
	// NotifyID is the originating notification identifier, empty for the
	// base "on" entry.
	NotifyID string
	// ClearDelay is the auto-clear window; nil means never, zero means
	// self-clear as soon as a finite animation completes.
	ClearDelay *time.Duration
	// PeekEnabled allows the temporary priority boost on add.
	PeekEnabled bool

	pattern      []sequence.Item
	loopsForever bool

	mu      sync.Mutex
	color   sequence.ColorInfo
	running bool
	stop    chan struct{}
}

// NewRunner compiles the pattern and returns a runner ready to start.
// Compilation happens up front so malformed patterns surface to the caller
// and never reach the worker loop.
func NewRunner(pattern []sequence.Item, priority float64, notifyID string, clearDelay *time.Duration, peekEnabled bool) (*Runner, error) {
	seq, err := sequence.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Priority:     priority,
		NotifyID:     notifyID,
		ClearDelay:   clearDelay,
		PeekEnabled:  peekEnabled,
		pattern:      pattern,
		loopsForever: seq.LoopsForever(),
		color:        seq.Color(),
	}, nil
}

// LoopsForever reports whether the compiled pattern never ends on its own.
func (r *Runner) LoopsForever() bool {
	return r.loopsForever
}

// Color returns the runner's current color.
func (r *Runner) Color() sequence.ColorInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.color
}

func (r *Runner) setColor(c sequence.ColorInfo) {
	r.mu.Lock()
	r.color = c
	r.mu.Unlock()
}

// IsRunning reports whether the animation goroutine is alive and has not
// been asked to stop.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the animation goroutine. A previous run, if any, is asked
// to stop first. Each completed step pulses the wake channel; onExit is
// called once when the animation ends for any reason.
func (r *Runner) Start(ctx context.Context, wake chan<- struct{}, onExit func(*Runner)) {
	r.mu.Lock()
	if r.stop != nil {
		select {
		case <-r.stop:
		default:
			close(r.stop)
		}
	}
	stop := make(chan struct{})
	r.stop = stop
	r.running = true
	r.mu.Unlock()

	go r.animate(ctx, stop, wake, onExit)
}

// RequestStop asks the animation to halt at the next step boundary.
// Fire-and-forget: delays in progress are not interrupted.
func (r *Runner) RequestStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		select {
		case <-r.stop:
		default:
			close(r.stop)
		}
	}
	r.running = false
}

func (r *Runner) animate(ctx context.Context, stop <-chan struct{}, wake chan<- struct{}, onExit func(*Runner)) {
	runID := uuid.NewString()[:8]

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		if onExit != nil {
			onExit(r)
		}
	}()

	// Re-read the pattern so every run starts from the beginning.
	seq, err := sequence.Compile(r.pattern)
	if err != nil {
		log.Error().Err(err).Str("run", runID).Msg("Animation pattern failed to compile")
		return
	}
	r.setColor(seq.Color())

	done := false
	for !done && !isClosed(stop) {
		done, err = seq.RunNextStep(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("run", runID).Msg("Animation step failed")
			}
			return
		}
		// Don't publish the color if we were interrupted mid-step
		if !isClosed(stop) {
			r.setColor(seq.Color())
		}
		pulse(wake)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// pulse performs a non-blocking signal send; the single-slot wake channel
// coalesces bursts of step completions.
func pulse(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
