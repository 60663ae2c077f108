package runner

import (
	"context"
	"time"

	"routined/internal/eventbus"
	logx "routined/pkg/logx"
)

// Dispatcher is the outbound action sink. Delivery is fire-and-forget: the
// scheduler consumes no result beyond the error, which is logged and dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string) error
}

// Runner executes a routine's action list sequentially with a fixed delay
// between consecutive actions. It blocks its caller for the whole sequence;
// the trigger engine therefore invokes it from each timer's own goroutine.
type Runner struct {
	log  logx.Logger
	sink Dispatcher
}

func New(sink Dispatcher, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log, sink: sink}
}

// Run dispatches each action in order. The delay applies between consecutive
// actions only: a single action runs immediately and nothing waits after the
// last one. A failed dispatch is logged and the sequence continues. Context
// cancellation aborts between actions (an in-flight dispatch is not cut short).
func (r *Runner) Run(ctx context.Context, name string, actions []string, delay time.Duration) {
	for i, action := range actions {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				r.log.Info("action sequence canceled",
					logx.String("routine", name), logx.Int("dispatched", i), logx.Int("total", len(actions)))
				return
			case <-time.After(delay):
			}
		}
		if err := r.sink.Dispatch(ctx, action); err != nil {
			r.log.Warn("action dispatch failed",
				logx.String("routine", name), logx.String("action", action), logx.Err(err))
			continue
		}
		r.log.Debug("action dispatched", logx.String("routine", name), logx.String("action", action))
	}
}

// EventDispatch is the bus event type published for each dispatched action.
const EventDispatch = "action.dispatch"

// DispatchEvent is the payload of an EventDispatch bus event.
type DispatchEvent struct {
	Action string
}

// BusDispatcher publishes each action to the in-process event bus, where
// external consumers (the command sink, notification forwarders) pick it up.
type BusDispatcher struct {
	bus eventbus.Bus
}

func NewBusDispatcher(bus eventbus.Bus) *BusDispatcher {
	return &BusDispatcher{bus: bus}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, action string) error {
	_ = ctx
	d.bus.Publish(eventbus.Event{Type: EventDispatch, Data: DispatchEvent{Action: action}})
	return nil
}
