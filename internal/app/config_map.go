package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/storage"
	"routined/internal/transport/telegram"
	"routined/internal/trigger"
)

const (
	defaultStorePath   = "./routined.routines.json"
	defaultActionDelay = 10 * time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStorePath
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (trigger.Config, error) {
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_interval",
		cfg.Scheduler.SweepInterval, 5*time.Minute)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{SweepInterval: sweep}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout",
		tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("runner.default_action_delay",
		cfg.Runner.DefaultActionDelay, defaultActionDelay)
	if err != nil {
		return telegram.Config{}, err
	}
	if len(tc.OwnerUserIDs) == 0 {
		return telegram.Config{}, errors.New("telegram.owner_user_ids must not be empty")
	}
	return telegram.Config{
		Token:              tc.Token,
		OwnerUserIDs:       tc.OwnerUserIDs,
		PollTimeout:        pollTimeout,
		DefaultActionDelay: delay,
		NotifyDispatch:     tc.NotifyDispatch,
		NotifyRate:         tc.NotifyRate,
	}, nil
}

// validateConfig gates hot reloads: a config that fails here is rejected
// without touching the running daemon.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	_ = ctx
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if cfg.Telegram != nil {
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return errors.New("unknown storage driver: " + cfg.Storage.Driver)
	}
	return nil
}
