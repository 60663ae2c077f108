package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "routined/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
// - Named goroutines (for logging/debug)
// - Panic recovery
// - Optional cancel-on-first-error
// - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	wg          sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil error
// from any goroutine.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// Active reports how many supervised goroutines are currently running.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Go starts fn on its own goroutine. A panic is recovered and logged with a
// stack; a non-nil return is recorded as the supervisor's first error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if rec := recover(); rec != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked",
						logx.String("goroutine", name),
						logx.Any("panic", rec),
						logx.Stack(logx.StackTrace(3, 16)))
				}
			}
		}()

		err := fn(s.ctx)
		if err != nil && s.ctx.Err() == nil {
			s.errOnce.Do(func() { s.firstErr.Store(err) })
			if !s.log.IsZero() {
				s.log.Warn("goroutine exited with error", logx.String("goroutine", name), logx.Err(err))
			}
			if s.cancelOnErr {
				s.cancel()
			}
		}
	}()
}

// Stop cancels the context and waits for all goroutines, giving up when ctx
// expires first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if !s.log.IsZero() {
			s.log.Warn("supervisor stop timed out",
				logx.Int64("active", s.Active()), logx.Duration("waited", stopWait(ctx)))
		}
		return ctx.Err()
	}
}

func stopWait(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(dl)
}
