package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"routined/internal/eventbus"
	"routined/internal/routines"
	"routined/internal/runner"
	rtsup "routined/internal/runtime/supervisor"
	logx "routined/pkg/logx"
)

// Config for the Telegram control transport.
type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration

	// DefaultActionDelay applies when /add omits the delay segment.
	DefaultActionDelay time.Duration

	// NotifyDispatch forwards each dispatched action to the first owner.
	NotifyDispatch bool
	NotifyRate     int // messages per second, default 1
}

// Service is the optional chat front-end: owners manage routines through bot
// commands, and dispatched actions are (optionally) echoed back to them. The
// scheduling core never depends on it.
type Service struct {
	cfg Config
	log logx.Logger
	svc *routines.Service
	bus eventbus.Bus

	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, svc *routines.Service, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, log: log, svc: svc, bus: bus, bot: b}
	s.registerHandlers()
	return s, nil
}

func (s *Service) isOwner(userID int64) bool {
	for _, id := range s.cfg.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ownerOnly drops messages from anyone not in the owner list. Silent drop:
// responding would leak the bot's existence to strangers.
func (s *Service) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || !s.isOwner(sender.ID) {
			return nil
		}
		return next(c)
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "telegram"))),
		// transport errors should not take down the scheduler core
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.runMu.Unlock()

	// Ensure we stop telebot when the transport context is cancelled.
	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		if s.bot != nil {
			s.bot.Stop()
		}
		return nil
	})

	// Telebot's Start() blocks until Stop() is called.
	sup.Go("telebot.poll", func(c context.Context) error {
		s.log.Info("polling started")
		s.bot.Start()
		s.log.Info("polling stopped")
		return nil
	})

	if s.cfg.NotifyDispatch && len(s.cfg.OwnerUserIDs) > 0 {
		sup.Go("dispatch.notify", func(c context.Context) error {
			s.notifyLoop(c)
			return nil
		})
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	s.running = false
	s.runMu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// notifyLoop forwards dispatched actions to the first owner. The limiter
// drops the overflow instead of queueing: a routine with a dozen rapid
// actions should not turn the owner's chat into a firehose.
func (s *Service) notifyLoop(ctx context.Context) {
	rps := s.cfg.NotifyRate
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	owner := &tele.User{ID: s.cfg.OwnerUserIDs[0]}

	events, unsub := s.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != runner.EventDispatch {
				continue
			}
			if !limiter.Allow() {
				continue
			}
			text := formatDispatch(e)
			if text == "" {
				continue
			}
			if _, err := s.bot.Send(owner, text); err != nil {
				s.log.Warn("dispatch notification failed", logx.Err(err))
			}
		}
	}
}
