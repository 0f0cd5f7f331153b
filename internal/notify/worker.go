// Package notify implements the per-light notification scheduling engine:
// a priority-sorted active set of notification sequences, a single-consumer
// command queue and a worker loop that drives the wrapped light.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/colornotifyd/internal/colorx"
	"github.com/dokzlo13/colornotifyd/internal/sequence"
	"github.com/dokzlo13/colornotifyd/internal/wrapped"
)

const (
	// maximumPriority is the peek boost added on top of the nominal
	// priority, large enough to outrank any configured value.
	maximumPriority = 99999999.0

	// dynamicPriorityBoost is the fractional tie-breaker that keeps the
	// base "on" entry visible above the current top priority.
	dynamicPriorityBoost = 0.5

	// recoveryDelay is the wait after a failed device command before all
	// running animations are force-reset.
	recoveryDelay = 1 * time.Second

	// ResponseTimeout is the window after an outbound command during which
	// a wrapped-light state change is treated as our own command's echo.
	ResponseTimeout = 5 * time.Second

	commandQueueSize = 64
)

// Controller sends commands to the wrapped physical light. The worker is
// the only caller; errors mean the real device state is now unknown.
type Controller interface {
	TurnOn(ctx context.Context, entity string, params map[string]any) error
	TurnOff(ctx context.Context, entity string) error
}

// Config holds the per-light worker settings.
type Config struct {
	Name          string
	WrappedEntity string

	// OnPriority is the nominal priority of the base "on" entry.
	OnPriority float64
	// OnRGB is the default color of the base "on" entry.
	OnRGB sequence.RGB
	// DynamicPriority boosts the base "on" entry above the current top.
	DynamicPriority bool
	// RestorePower allows commands to the real light before the first
	// notification; when false the worker stays quiet until then.
	RestorePower bool
	// PeekTime is the temporary priority boost window for new
	// notifications; zero disables peeking.
	PeekTime time.Duration
	// CycleTime rotates display among same-priority notifications; zero
	// disables cycling.
	CycleTime time.Duration
	// SupportsRGB reports whether the wrapped device accepts rgb_color
	// directly; otherwise rgb is converted to hs_color plus brightness.
	SupportsRGB bool
	// RateLimitRPS bounds outbound device commands (default 10).
	RateLimitRPS float64
}

type action int

const (
	actionWake action = iota
	actionAdd
	actionDelete
	actionCycle
	actionRestorePriority
	actionReset
	actionTurnOn
	actionTurnOff
	actionToggle
)

func (a action) String() string {
	switch a {
	case actionWake:
		return "wake"
	case actionAdd:
		return "add"
	case actionDelete:
		return "delete"
	case actionCycle:
		return "cycle"
	case actionRestorePriority:
		return "restore_priority"
	case actionReset:
		return "reset"
	case actionTurnOn:
		return "turn_on"
	case actionTurnOff:
		return "turn_off"
	case actionToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

type command struct {
	action   action
	key      string
	run      *Runner
	priority float64        // restore_priority payload
	params   map[string]any // turn_on / toggle payload
}

// entry pairs an active-set key with its runner. The key, not the runner's
// NotifyID, identifies base entries.
type entry struct {
	key string
	run *Runner
}

// Worker owns all mutation of one light's active set, running set and
// last-sent color. Everything else communicates through the command queue.
type Worker struct {
	cfg      Config
	ctrl     Controller
	limiter  *rate.Limiter
	resolver PatternResolver

	queue chan command
	wake  chan struct{}

	wrappedState *wrapped.State

	// Owned by the worker goroutine.
	active         []entry
	running        map[string]*Runner
	lastSet        *sequence.ColorInfo
	startupQuiet   bool
	cycleArmed     bool
	virtualOn      bool
	lastOnRGB      sequence.RGB
	lastBrightness int

	// onVirtual, if set, observes base "on"/"off" transitions.
	onVirtual func(on bool, rgb sequence.RGB)

	respExpire expiryClock
}

// OnVirtualState registers an observer for virtual on/off transitions,
// called from the worker goroutine. Must be set before Run.
func (w *Worker) OnVirtualState(fn func(on bool, rgb sequence.RGB)) {
	w.onVirtual = fn
}

func (w *Worker) notifyVirtual() {
	if w.onVirtual != nil {
		w.onVirtual(w.virtualOn, w.lastOnRGB)
	}
}

// NewWorker creates a worker seeded with the base "off" entry. Base entries
// are fresh per-worker instances, never shared.
func NewWorker(cfg Config, ctrl Controller, resolver PatternResolver) *Worker {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10.0
	}
	if cfg.OnPriority <= 0 {
		cfg.OnPriority = DefaultPriority
	}
	if cfg.OnRGB == (sequence.RGB{}) {
		cfg.OnRGB = sequence.WarmWhite
	}

	w := &Worker{
		cfg:            cfg,
		ctrl:           ctrl,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(math.Ceil(cfg.RateLimitRPS))),
		resolver:       resolver,
		queue:          make(chan command, commandQueueSize),
		wake:           make(chan struct{}, 1),
		wrappedState:   wrapped.New(),
		running:        make(map[string]*Runner),
		startupQuiet:   !cfg.RestorePower,
		lastOnRGB:      cfg.OnRGB,
		lastBrightness: 255,
	}

	offRunner, err := NewRunner(
		[]sequence.Item{sequence.ColorItem(sequence.NewColor(sequence.Off, 0))},
		0, KeyOff, nil, false,
	)
	if err != nil {
		// Static pattern, cannot fail
		panic(fmt.Sprintf("base off sequence: %v", err))
	}
	w.active = []entry{{key: KeyOff, run: offRunner}}
	return w
}

// Run drives the worker loop until the context is cancelled. Any other
// failure inside one iteration is logged and the loop restarts.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Str("light", w.cfg.Name).Str("wrapped", w.cfg.WrappedEntity).Msg("Notification worker started")

	for {
		err := w.workLoop(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info().Str("light", w.cfg.Name).Msg("Notification worker stopping")
			return nil
		}
		if err != nil {
			log.Error().Err(err).Str("light", w.cfg.Name).Msg("Worker loop failed, restarting")
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (w *Worker) workLoop(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()

	for {
		w.processSequences(ctx)
		w.armCycleTimer()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-w.queue:
			w.handleCommand(ctx, cmd)
		case <-w.wake:
			// An animation finished a step; recompute on next pass.
		}
	}
}

// processSequences recomputes what the wrapped light should display and
// sends the command if it changed.
func (w *Worker) processSequences(ctx context.Context) {
	tops := w.topEntries()
	if len(tops) == 0 {
		log.Error().Str("light", w.cfg.Name).Msg("Active sequence list is empty")
		return
	}
	top := tops[0]

	// Ensure every top-priority notification has a live animation. Base
	// entries hold a single static color and are never animated, so a
	// completed restore is not clobbered by a late step wake-up.
	for _, e := range tops {
		if e.key == KeyOn || e.key == KeyOff {
			continue
		}
		if _, ok := w.running[e.key]; !ok {
			e.run.Start(ctx, w.wake, w.animationExited(e.key))
			w.running[e.key] = e.run
		}
	}

	// Stop animations that fell out of top or out of the active set
	for key, run := range w.running {
		if !w.isActive(key) || run.Priority < top.run.Priority {
			run.RequestStop()
			delete(w.running, key)
		}
	}

	// Returning to a base entry after notifications cleared: restore the
	// tracked pre-notification state instead of the base color.
	if (top.key == KeyOn || top.key == KeyOff) && w.wrappedState.IsFrozen() {
		if w.restoreWrapped(ctx) {
			w.wrappedState.Unfreeze()
			w.lastSet = nil
			log.Debug().Str("light", w.cfg.Name).Msg("Wrapped light restored, tracker unfrozen")
		} else {
			log.Warn().Str("light", w.cfg.Name).Msg("Wrapped light restore failed")
		}
		return
	}

	color := top.run.Color()
	if w.lastSet != nil && color.Equal(*w.lastSet) {
		return
	}
	if err := w.sendColor(ctx, color); err != nil {
		log.Error().Err(err).Str("light", w.cfg.Name).Msg("Failed to set wrapped light, real state unknown")
		sleepCtx(ctx, recoveryDelay)
		w.resetRunning()
		return
	}
	w.lastSet = &color
}

func (w *Worker) handleCommand(ctx context.Context, cmd command) {
	if cmd.action != actionWake {
		log.Info().
			Str("light", w.cfg.Name).
			Str("action", cmd.action.String()).
			Str("key", cmd.key).
			Msg("Got queue item")
	}

	switch cmd.action {
	case actionDelete:
		w.handleDelete(cmd.key)
	case actionAdd:
		w.handleAdd(cmd.key, cmd.run)
	case actionCycle:
		w.cycleArmed = false
		w.cycleSamePriority()
	case actionRestorePriority:
		w.handleRestorePriority(cmd.key, cmd.priority)
	case actionReset:
		w.resetRunning()
	case actionTurnOn:
		w.handleTurnOn(cmd.params)
	case actionTurnOff:
		w.virtualOn = false
		w.handleDelete(KeyOn)
		w.notifyVirtual()
	case actionToggle:
		if !w.virtualOn || (w.cfg.DynamicPriority && len(w.active) > 0 && w.active[0].key != KeyOn) {
			w.handleTurnOn(cmd.params)
		} else {
			w.virtualOn = false
			w.handleDelete(KeyOn)
			w.notifyVirtual()
		}
	}
}

func (w *Worker) handleDelete(key string) {
	idx := -1
	for i, e := range w.active {
		if e.key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	w.active = append(w.active[:idx], w.active[idx+1:]...)
	if run, ok := w.running[key]; ok {
		run.RequestStop()
		delete(w.running, key)
	}
}

func (w *Worker) handleAdd(key string, run *Runner) {
	if run == nil {
		return
	}
	if w.isActive(key) {
		log.Warn().Str("light", w.cfg.Name).Str("key", key).Msg("Notification already in active list, replacing")
		w.handleDelete(key)
	}

	// Temporarily give high priority for peeks
	if w.cfg.PeekTime > 0 && run.PeekEnabled && key != KeyOff {
		autoClears := run.ClearDelay != nil && *run.ClearDelay == 0 && !run.LoopsForever()
		nominal := run.Priority
		run.Priority += maximumPriority
		log.Debug().
			Str("light", w.cfg.Name).
			Str("key", key).
			Float64("priority", run.Priority).
			Dur("peek", w.cfg.PeekTime).
			Msg("Boosting priority for peek")
		if !autoClears {
			time.AfterFunc(w.cfg.PeekTime, func() {
				w.enqueue(command{action: actionRestorePriority, key: key, priority: nominal})
			})
		}
	}

	// Engine-side expiry for notifications with a positive clear delay
	if run.ClearDelay != nil && *run.ClearDelay > 0 {
		time.AfterFunc(*run.ClearDelay, func() {
			w.enqueue(command{action: actionDelete, key: key})
		})
	}

	w.active = append(w.active, entry{key: key, run: run})
	w.sortActive()

	// First real notification ends the startup quiet period
	w.startupQuiet = false

	// Capture the pre-notification state exactly once per batch
	if !w.wrappedState.IsFrozen() {
		w.wrappedState.Freeze()
		log.Debug().
			Str("light", w.cfg.Name).
			Bool("wrapped_on", w.wrappedState.IsOn()).
			Msg("Frozen wrapped state for restore")
	}
}

func (w *Worker) handleRestorePriority(key string, priority float64) {
	for _, e := range w.active {
		if e.key == key {
			e.run.Priority = priority
			log.Debug().
				Str("light", w.cfg.Name).
				Str("key", key).
				Float64("priority", priority).
				Msg("Restoring nominal priority")
			w.sortActive()
			return
		}
	}
}

// handleTurnOn inserts or updates the base "on" entry from a virtual light
// command, normalizing whatever color parameters were supplied to rgb.
func (w *Worker) handleTurnOn(raw map[string]any) {
	params, err := decodeTurnOnParams(raw)
	if err != nil {
		log.Warn().Err(err).Str("light", w.cfg.Name).Msg("Bad turn_on parameters, using last color")
	}

	rgb := w.lastOnRGB
	switch {
	case len(params.HSColor) == 2:
		r, g, b := colorx.HSToRGB(params.HSColor[0], params.HSColor[1])
		rgb = sequence.RGB{r, g, b}
	case params.ColorTempKelvin != nil:
		r, g, b := colorx.KelvinToRGB(*params.ColorTempKelvin)
		rgb = sequence.RGB{r, g, b}
	case len(params.RGBColor) == 3 || params.Brightness != nil:
		if len(params.RGBColor) == 3 {
			rgb = sequence.RGB{uint8(params.RGBColor[0]), uint8(params.RGBColor[1]), uint8(params.RGBColor[2])}
		}
		if params.Brightness != nil {
			w.lastBrightness = *params.Brightness
		}
		// Fold brightness into the rgb value
		h, s, _ := colorx.RGBToHSV(rgb[0], rgb[1], rgb[2])
		v := 100.0 / 255.0 * float64(w.lastBrightness)
		r, g, b := colorx.HSVToRGB(h, s, v)
		rgb = sequence.RGB{r, g, b}
	}

	priority := w.cfg.OnPriority
	if w.cfg.DynamicPriority {
		if tops := w.topEntries(); len(tops) > 0 {
			priority = math.Max(priority, tops[0].run.Priority) + dynamicPriorityBoost
		}
	}

	run, err := NewRunner(
		[]sequence.Item{sequence.ColorItem(sequence.NewColor(rgb, sequence.DefaultBrightness))},
		priority, "", nil, true,
	)
	if err != nil {
		log.Error().Err(err).Str("light", w.cfg.Name).Msg("Failed to build base on sequence")
		return
	}

	w.lastOnRGB = rgb
	w.virtualOn = true
	w.handleAdd(KeyOn, run)
	w.notifyVirtual()
}

// cycleSamePriority rotates the top entry past the entries tied with it,
// producing round-robin display among equal-priority notifications. A base
// "off" top never cycles.
func (w *Worker) cycleSamePriority() {
	if len(w.active) < 2 || w.active[0].key == KeyOff {
		return
	}
	if len(w.running) < 2 {
		return
	}

	top := w.active[0]
	rotated := make([]entry, 0, len(w.active))
	inserted := false
	for _, e := range w.active[1:] {
		if !inserted && top.run.Priority > e.run.Priority {
			rotated = append(rotated, top)
			inserted = true
		}
		rotated = append(rotated, e)
	}
	if !inserted {
		rotated = append(rotated, top)
	}
	w.active = rotated
}

func (w *Worker) armCycleTimer() {
	if w.cfg.CycleTime <= 0 || w.cycleArmed || len(w.running) < 2 {
		return
	}
	w.cycleArmed = true
	time.AfterFunc(w.cfg.CycleTime, func() {
		w.enqueue(command{action: actionCycle})
	})
}

// resetRunning stops all animations and forgets the last sent color, so the
// next pass re-derives everything from scratch.
func (w *Worker) resetRunning() {
	for key, run := range w.running {
		run.RequestStop()
		delete(w.running, key)
	}
	w.lastSet = nil
}

// animationExited returns the exit hook for an animation: finite sequences
// with a zero clear delay remove their own notification once done.
func (w *Worker) animationExited(key string) func(*Runner) {
	return func(r *Runner) {
		pulse(w.wake)
		if r.ClearDelay != nil && *r.ClearDelay == 0 {
			w.enqueue(command{action: actionDelete, key: key})
		}
	}
}

func (w *Worker) topEntries() []entry {
	var tops []entry
	topPriority := 0.0
	for _, e := range w.active {
		if e.run.Priority < topPriority {
			break
		}
		topPriority = e.run.Priority
		tops = append(tops, e)
	}
	return tops
}

func (w *Worker) isActive(key string) bool {
	for _, e := range w.active {
		if e.key == key {
			return true
		}
	}
	return false
}

// sortActive sorts descending by priority; insertion order among equal
// priorities is preserved and only changed by the cycle operation.
func (w *Worker) sortActive() {
	sort.SliceStable(w.active, func(i, j int) bool {
		return w.active[i].run.Priority > w.active[j].run.Priority
	})
}

func (w *Worker) sendColor(ctx context.Context, color sequence.ColorInfo) error {
	params := color.LightParams()
	if rgb, ok := params[sequence.ParamRGBColor].(sequence.RGB); ok && rgb == sequence.Off {
		return w.turnOffWrapped(ctx)
	}
	return w.turnOnWrapped(ctx, params)
}

func (w *Worker) turnOnWrapped(ctx context.Context, params map[string]any) error {
	if w.startupQuiet {
		return nil
	}

	// Devices without native rgb support get hue/sat plus brightness so
	// low rgb values still render dim.
	if rgb, ok := params[sequence.ParamRGBColor].(sequence.RGB); ok && !w.cfg.SupportsRGB {
		if _, hasBrightness := params[sequence.ParamBrightness]; !hasBrightness {
			h, s, v := colorx.RGBToHSV(rgb[0], rgb[1], rgb[2])
			delete(params, sequence.ParamRGBColor)
			params[wrapped.AttrHSColor] = []float64{h, s}
			params[sequence.ParamBrightness] = int(math.Round(255.0 / 100.0 * v))
		}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	w.respExpire.Mark(ResponseTimeout)
	return w.ctrl.TurnOn(ctx, w.cfg.WrappedEntity, params)
}

func (w *Worker) turnOffWrapped(ctx context.Context) error {
	if w.startupQuiet {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	w.respExpire.Mark(ResponseTimeout)
	return w.ctrl.TurnOff(ctx, w.cfg.WrappedEntity)
}

func (w *Worker) restoreWrapped(ctx context.Context) bool {
	if w.wrappedState.IsOn() {
		params := w.wrappedState.RestoreParams()
		log.Debug().
			Str("light", w.cfg.Name).
			Interface("params", params).
			Msg("Restoring wrapped light")
		return w.turnOnWrapped(ctx, params) == nil
	}
	return w.turnOffWrapped(ctx) == nil
}

func (w *Worker) enqueue(cmd command) {
	select {
	case w.queue <- cmd:
	default:
		log.Warn().
			Str("light", w.cfg.Name).
			Str("action", cmd.action.String()).
			Msg("Command queue full, dropping command")
	}
}

// SeedVirtualOn inserts the base "on" entry from persisted state before the
// worker loop starts. Unlike a turn-on command it does not end the startup
// quiet period or freeze the wrapped tracker, so a light that was on before
// a restart becomes the restore target without commanding the real device.
// Must be called before Run.
func (w *Worker) SeedVirtualOn(raw map[string]any) {
	quiet := w.startupQuiet
	frozen := w.wrappedState.IsFrozen()
	w.handleTurnOn(raw)
	w.startupQuiet = quiet
	if !frozen {
		w.wrappedState.Unfreeze()
	}
}

// --- inbound API (any goroutine) ---

// AddSequence queues a notification sequence for the given key.
func (w *Worker) AddSequence(key string, run *Runner) {
	w.enqueue(command{action: actionAdd, key: key, run: run})
}

// RemoveSequence queues removal of the notification with the given key.
func (w *Worker) RemoveSequence(key string) {
	w.enqueue(command{action: actionDelete, key: key})
}

// HandleNotificationEvent translates a notification source state change
// into an add or remove command. Pattern compile errors are returned to the
// caller and never reach the worker loop.
func (w *Worker) HandleNotificationEvent(key string, isOn bool, raw map[string]any) error {
	if !isOn {
		w.RemoveSequence(key)
		return nil
	}

	attrs, err := DecodeAttributes(raw)
	if err != nil {
		log.Warn().Err(err).Str("light", w.cfg.Name).Str("key", key).Msg("Garbled notification attributes, using defaults")
		attrs = Attributes{}
	}
	run, err := attrs.BuildRunner(key, w.resolver)
	if err != nil {
		return fmt.Errorf("notification %q: %w", key, err)
	}
	w.AddSequence(key, run)
	return nil
}

// HandleWrappedState records an observed state of the wrapped light. A
// change arriving outside the response-timeout window means something else
// is driving the light; all animations are reset to recover.
func (w *Worker) HandleWrappedState(snap wrapped.Snapshot) {
	first := !w.wrappedState.HasState()
	w.wrappedState.Update(snap)
	if first {
		pulse(w.wake)
		return
	}
	if w.respExpire.Expired() {
		log.Warn().
			Str("light", w.cfg.Name).
			Str("state", snap.State).
			Msg("Unexpected wrapped light change, resetting")
		w.enqueue(command{action: actionReset})
	}
}

// TurnOn queues a virtual light turn-on with optional color parameters.
func (w *Worker) TurnOn(params map[string]any) {
	w.enqueue(command{action: actionTurnOn, params: params})
}

// TurnOff queues a virtual light turn-off.
func (w *Worker) TurnOff() {
	w.enqueue(command{action: actionTurnOff})
}

// Toggle queues a virtual light toggle.
func (w *Worker) Toggle(params map[string]any) {
	w.enqueue(command{action: actionToggle, params: params})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
