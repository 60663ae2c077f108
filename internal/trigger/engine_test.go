package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"routined/internal/routine"
	logx "routined/pkg/logx"
)

type fakeSource struct {
	mu sync.Mutex
	m  map[string]routine.Routine
}

func newFakeSource(rs ...routine.Routine) *fakeSource {
	s := &fakeSource{m: map[string]routine.Routine{}}
	for _, r := range rs {
		s.m[r.ID] = r
	}
	return s
}

func (s *fakeSource) put(r routine.Routine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[r.ID] = r
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (s *fakeSource) Get(id string) (routine.Routine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[id]
	return r.Clone(), ok
}

func (s *fakeSource) Active() []routine.Routine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []routine.Routine
	for _, r := range s.m {
		if r.Active {
			out = append(out, r.Clone())
		}
	}
	return out
}

type fakeRunner struct {
	mu    sync.Mutex
	names []string
	fired chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fired: make(chan string, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, name string, actions []string, delay time.Duration) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	r.fired <- name
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func (r *fakeRunner) waitFire(t *testing.T) string {
	t.Helper()
	select {
	case name := <-r.fired:
		return name
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for routine to fire")
		return ""
	}
}

func (r *fakeRunner) expectNoFire(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case name := <-r.fired:
		t.Fatalf("unexpected fire of %q", name)
	case <-time.After(within):
	}
}

// monday0800 is a fixed reference instant; 2025-03-03 is a Monday.
var monday0800 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.Local)

func newTestEngine(src Source, run Runner, at time.Time) *Engine {
	e := New(Config{}, src, run, logx.Nop())
	e.now = func() time.Time { return at }
	return e
}

func testRoutine(id, clock string, days ...string) routine.Routine {
	return routine.Routine{
		ID:      id,
		Name:    "routine-" + id,
		Time:    clock,
		Days:    days,
		Actions: []string{"act"},
		Active:  true,
	}
}

func TestArmFutureSlot(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)

	if !e.Arm(r) {
		t.Fatal("Arm returned false for an eligible routine")
	}
	if !e.Armed("a") {
		t.Fatal("routine not in armed set")
	}

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.Local)
	if !snap[0].At.Equal(want) {
		t.Fatalf("armed at %v, want %v", snap[0].At, want)
	}
	run.expectNoFire(t, 50*time.Millisecond)
}

func TestArmIneligibleDay(t *testing.T) {
	t.Parallel()
	e := newTestEngine(newFakeSource(), newFakeRunner(), monday0800)
	if e.Arm(testRoutine("a", "09:00", "Tuesday", "Sunday")) {
		t.Fatal("armed a routine whose days exclude the reference day")
	}
	if e.Armed("a") {
		t.Fatal("ineligible routine present in armed set")
	}
}

func TestArmPastSlotFiresImmediately(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("late", "07:00", "Monday")
	src.put(r)

	if !e.Arm(r) {
		t.Fatal("Arm returned false")
	}
	if got := run.waitFire(t); got != "routine-late" {
		t.Fatalf("fired %q, want routine-late", got)
	}
	if e.Armed("late") {
		t.Fatal("routine still armed after firing")
	}
}

func TestArmIsIdempotent(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	e := newTestEngine(src, newFakeRunner(), monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)
	e.Arm(r)
	e.Arm(r)
	e.Arm(r)

	if n := len(e.Snapshot()); n != 1 {
		t.Fatalf("expected 1 armed timer, got %d", n)
	}
}

func TestDisarm(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	e := newTestEngine(src, newFakeRunner(), monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)
	e.Arm(r)

	if !e.Disarm("a") {
		t.Fatal("Disarm returned false for an armed routine")
	}
	if e.Armed("a") {
		t.Fatal("routine armed after Disarm")
	}
	if e.Disarm("a") {
		t.Fatal("Disarm returned true for an already disarmed routine")
	}
}

func TestDisarmInvalidatesElapsedTimer(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)
	e.Arm(r)

	// Simulate a timer whose callback lost the race with Disarm: grab the
	// version the timer carries, disarm, then invoke fire as the timer would.
	e.tmu.Lock()
	ver := e.armed["a"].ver
	e.tmu.Unlock()

	e.Disarm("a")
	e.fire("a", ver)

	if run.count() != 0 {
		t.Fatal("stale timer callback ran the routine after Disarm")
	}
}

func TestSweepArmsEligibleOnce(t *testing.T) {
	t.Parallel()
	src := newFakeSource(
		testRoutine("a", "09:00", "Monday"),
		testRoutine("b", "10:30", "Monday", "Friday"),
		testRoutine("c", "09:00", "Sunday"),
	)
	paused := testRoutine("d", "09:00", "Monday")
	paused.Active = false
	src.put(paused)

	e := newTestEngine(src, newFakeRunner(), monday0800)

	e.Sweep()
	if n := len(e.Snapshot()); n != 2 {
		t.Fatalf("first sweep armed %d routines, want 2", n)
	}
	e.Sweep()
	if n := len(e.Snapshot()); n != 2 {
		t.Fatalf("repeated sweep changed armed set to %d", n)
	}
	if e.Armed("c") || e.Armed("d") {
		t.Fatal("sweep armed an ineligible or inactive routine")
	}
}

func TestSweepSkipsMalformed(t *testing.T) {
	t.Parallel()
	bad := testRoutine("bad", "99:99", "Monday")
	good := testRoutine("good", "09:00", "Monday")
	src := newFakeSource(bad, good)

	e := newTestEngine(src, newFakeRunner(), monday0800)
	e.Sweep()

	if e.Armed("bad") {
		t.Fatal("malformed routine armed")
	}
	if !e.Armed("good") {
		t.Fatal("valid routine skipped because a sibling was malformed")
	}
}

func TestFiredRoutineNotRearmedSameDay(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "07:00", "Monday")
	src.put(r)

	e.Sweep()
	run.waitFire(t)

	e.Sweep()
	run.expectNoFire(t, 100*time.Millisecond)
	if e.Armed("a") {
		t.Fatal("fired routine re-armed by a same-day sweep")
	}

	// Next eligible day: the sweep arms it again.
	e.now = func() time.Time { return monday0800.AddDate(0, 0, 7) }
	e.Sweep()
	run.waitFire(t)
}

func TestFireSkipsRemovedAndInactive(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)
	e.Arm(r)

	e.tmu.Lock()
	ver := e.armed["a"].ver
	e.tmu.Unlock()

	// The routine vanished between arming and firing.
	src.remove("a")
	e.fire("a", ver)
	if run.count() != 0 {
		t.Fatal("fired a removed routine")
	}

	// Same race, but the routine was deactivated instead.
	r2 := testRoutine("b", "09:00", "Monday")
	src.put(r2)
	e.Arm(r2)
	e.tmu.Lock()
	ver2 := e.armed["b"].ver
	e.tmu.Unlock()
	r2.Active = false
	src.put(r2)
	e.fire("b", ver2)
	if run.count() != 0 {
		t.Fatal("fired an inactive routine")
	}
}

func TestFireUsesFreshRoutineState(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "09:00", "Monday")
	src.put(r)
	e.Arm(r)

	e.tmu.Lock()
	ver := e.armed["a"].ver
	e.tmu.Unlock()

	r.Name = "renamed"
	src.put(r)
	e.fire("a", ver)

	if got := run.waitFire(t); got != "renamed" {
		t.Fatalf("fire used stale routine state, ran %q", got)
	}
}

func TestForgetClearsBookkeeping(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	run := newFakeRunner()
	e := newTestEngine(src, run, monday0800)

	r := testRoutine("a", "07:00", "Monday")
	src.put(r)
	e.Sweep()
	run.waitFire(t)

	// Recreating a routine under the same id starts with a clean slate.
	e.Forget("a")
	e.Sweep()
	run.waitFire(t)
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()
	src := newFakeSource(testRoutine("a", "09:00", "Monday"))
	run := newFakeRunner()
	e := New(Config{SweepInterval: time.Hour}, src, run, logx.Nop())
	e.now = func() time.Time { return monday0800 }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !e.Armed("a") {
		t.Fatal("initial sweep did not arm the eligible routine")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	e.Stop(stopCtx)
	if e.Armed("a") {
		t.Fatal("armed timer survived Stop")
	}
}

func TestSetSweepInterval(t *testing.T) {
	t.Parallel()
	src := newFakeSource(testRoutine("a", "09:00", "Monday"))
	e := New(Config{SweepInterval: time.Hour}, src, newFakeRunner(), logx.Nop())
	e.now = func() time.Time { return monday0800 }

	// Before Start: just records the new cadence.
	if err := e.SetSweepInterval(30 * time.Minute); err != nil {
		t.Fatalf("SetSweepInterval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// While running: the ticker is swapped without dropping armed timers.
	if err := e.SetSweepInterval(10 * time.Minute); err != nil {
		t.Fatalf("SetSweepInterval while running: %v", err)
	}
	if !e.Armed("a") {
		t.Fatal("armed timer lost across a sweep interval change")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	e.Stop(stopCtx)
}
