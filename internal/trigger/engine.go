package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"routined/internal/routine"
	logx "routined/pkg/logx"
)

// Config controls the trigger engine.
type Config struct {
	// SweepInterval is the cadence of the eligibility re-scan.
	// Defaults to 5 minutes; the coarse sweep is what recovers armed state
	// after restarts and picks up day rollovers, so keep it coarse.
	SweepInterval time.Duration
}

// Source is the registry view the engine reads. Routines are always fetched
// fresh at fire time so an edit between arming and firing wins.
type Source interface {
	Get(id string) (routine.Routine, bool)
	Active() []routine.Routine
}

// Runner executes a routine's action list. It blocks for the whole sequence;
// the engine calls it from the timer's own goroutine so one long action list
// never stalls the sweep or other routines' timers.
type Runner interface {
	Run(ctx context.Context, name string, actions []string, delay time.Duration)
}

type armedTimer struct {
	timer *time.Timer
	at    time.Time
	ver   uint64
}

// ArmedInfo describes one armed routine for display and tests.
type ArmedInfo struct {
	ID string
	At time.Time
}

// Engine owns the armed one-shot timer set. At most one armed timer exists
// per routine id; a fired routine is not re-armed until the sweep observes a
// later eligible day (or a mutation arms it explicitly).
type Engine struct {
	log    logx.Logger
	cfg    Config
	src    Source
	runner Runner

	mu sync.Mutex
	c  *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc

	tmu   sync.Mutex
	armed map[string]armedTimer
	// armVer outlives armed entries so a disarm invalidates a timer callback
	// that fired concurrently but has not entered fire() yet.
	armVer map[string]uint64
	// lastFired records the local date of the most recent firing per id. The
	// sweep uses it to avoid re-arming (and, with the time-of-day already in
	// the past, instantly re-firing) a routine on the same day.
	lastFired map[string]string

	now func() time.Time
}

const defaultSweepInterval = 5 * time.Minute

func New(cfg Config, src Source, runner Runner, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Engine{
		log:       log,
		cfg:       cfg,
		src:       src,
		runner:    runner,
		armed:     map[string]armedTimer{},
		armVer:    map[string]uint64{},
		lastFired: map[string]string{},
		now:       time.Now,
	}
}

// Start runs one sweep immediately (recovering armed state after a restart),
// then re-sweeps every SweepInterval for the life of ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.c != nil {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.runCancel = cancel
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.cfg.SweepInterval), e.Sweep); err != nil {
		cancel()
		e.runCtx = nil
		e.runCancel = nil
		e.mu.Unlock()
		return err
	}
	e.c = c
	e.mu.Unlock()

	e.Sweep()
	c.Start()
	e.log.Info("trigger engine started", logx.Duration("sweep_interval", e.cfg.SweepInterval))
	return nil
}

// SetSweepInterval changes the sweep cadence. When the engine is running the
// ticker is swapped in place, so a config reload takes effect without a
// restart. Armed timers are untouched.
func (e *Engine) SetSweepInterval(d time.Duration) error {
	if d <= 0 {
		d = defaultSweepInterval
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if d == e.cfg.SweepInterval {
		return nil
	}
	e.cfg.SweepInterval = d
	if e.c == nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", d), e.Sweep); err != nil {
		return err
	}
	old := e.c
	e.c = c
	old.Stop()
	c.Start()
	e.log.Info("sweep interval updated", logx.Duration("sweep_interval", d))
	return nil
}

// Stop cancels the sweep and every armed timer. Armed state is not persisted;
// the first sweep after the next Start rebuilds it.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.c
	e.c = nil
	cancel := e.runCancel
	e.runCancel = nil
	e.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	if cancel != nil {
		cancel()
	}

	e.tmu.Lock()
	for id, a := range e.armed {
		_ = a.timer.Stop()
		e.armVer[id]++
	}
	e.armed = map[string]armedTimer{}
	e.tmu.Unlock()

	e.log.Info("trigger engine stopped")
}

// Sweep re-evaluates all active routines and arms any that are eligible today
// and not already armed. A malformed routine is skipped with a warning, never
// aborting the pass for the rest.
func (e *Engine) Sweep() {
	today := e.localDate(e.now())
	var armedNow int
	for _, r := range e.src.Active() {
		if err := r.Validate(); err != nil {
			e.log.Warn("skipping malformed routine", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		e.tmu.Lock()
		fired := e.lastFired[r.ID] == today
		e.tmu.Unlock()
		if fired {
			continue
		}
		if e.Arm(r) {
			armedNow++
		}
	}
	if armedNow > 0 {
		e.log.Info("sweep armed routines", logx.Int("count", armedNow))
	}
}

// Arm schedules a one-shot timer for today's occurrence of the routine's
// time-of-day. No-op when already armed or not eligible today. When the
// time-of-day has already passed, the timer fires immediately (catch-up
// policy: a routine added or restarted after its slot still runs today).
// Reports whether the routine is armed after the call.
func (e *Engine) Arm(r routine.Routine) bool {
	now := e.now()
	hour, minute, err := routine.ParseClock(r.Time)
	if err != nil {
		e.log.Warn("not arming routine with bad time", logx.String("id", r.ID), logx.Err(err))
		return false
	}
	if !routine.EligibleOn(r, now) {
		e.log.Debug("routine not eligible today", logx.String("id", r.ID), logx.String("name", r.Name))
		return false
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}

	e.tmu.Lock()
	defer e.tmu.Unlock()
	if _, ok := e.armed[r.ID]; ok {
		return true
	}
	ver := e.armVer[r.ID] + 1
	e.armVer[r.ID] = ver

	id := r.ID
	timer := time.AfterFunc(delay, func() { e.fire(id, ver) })
	e.armed[id] = armedTimer{timer: timer, at: at, ver: ver}
	e.log.Debug("routine armed",
		logx.String("id", id), logx.String("name", r.Name), logx.Time("at", at))
	return true
}

// Disarm cancels the pending trigger for the id, if any. A fire callback that
// already left fire()'s version check cannot be interrupted; one that has not
// is reliably discarded.
func (e *Engine) Disarm(id string) bool {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	a, ok := e.armed[id]
	if !ok {
		return false
	}
	_ = a.timer.Stop()
	delete(e.armed, id)
	e.armVer[id]++
	e.log.Debug("routine disarmed", logx.String("id", id))
	return true
}

// Forget drops the per-id bookkeeping of a removed routine.
func (e *Engine) Forget(id string) {
	e.Disarm(id)
	e.tmu.Lock()
	delete(e.lastFired, id)
	delete(e.armVer, id)
	e.tmu.Unlock()
}

// Armed reports whether the id currently has an armed timer.
func (e *Engine) Armed(id string) bool {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	_, ok := e.armed[id]
	return ok
}

// Snapshot lists the armed set with the wall-clock instants it will fire at.
func (e *Engine) Snapshot() []ArmedInfo {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	out := make([]ArmedInfo, 0, len(e.armed))
	for id, a := range e.armed {
		out = append(out, ArmedInfo{ID: id, At: a.at})
	}
	return out
}

// fire runs on the timer's goroutine when it elapses.
func (e *Engine) fire(id string, ver uint64) {
	e.tmu.Lock()
	a, ok := e.armed[id]
	if !ok || a.ver != ver || e.armVer[id] != ver {
		// Disarmed or re-armed since this timer was set.
		e.tmu.Unlock()
		return
	}
	delete(e.armed, id)
	e.lastFired[id] = e.localDate(e.now())
	e.tmu.Unlock()

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r, ok := e.src.Get(id)
	if !ok || !r.Active {
		e.log.Debug("skipping fire for removed or inactive routine", logx.String("id", id))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("panic while running routine",
				logx.String("id", id), logx.Any("panic", rec), logx.Stack(logx.StackTrace(3, 16)))
		}
	}()

	e.log.Info("routine fired", logx.String("id", id), logx.String("name", r.Name),
		logx.Int("actions", len(r.Actions)))
	e.runner.Run(ctx, r.Name, r.Actions, r.ActionDelay)
}

func (e *Engine) localDate(t time.Time) string {
	return t.Format("2006-01-02")
}
