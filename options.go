package filament

import (
	"errors"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultOffloadLimit bounds the number of goroutines running Offload
	// work for one scheduler.
	DefaultOffloadLimit = 128

	// DefaultPollBatch is the number of readiness events fetched per poll.
	DefaultPollBatch = 256
)

type schedulerOptions struct {
	logger       *logiface.Logger[logiface.Event]
	name         string
	offloadLimit int64
	pollBatch    int
}

// Option configures a Scheduler.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

type optionFunc func(*schedulerOptions) error

func (f optionFunc) applyScheduler(opts *schedulerOptions) error { return f(opts) }

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	})
}

// WithName names the scheduler in log events. Defaults to a random UUID,
// which keeps events from per-thread schedulers apart.
func WithName(name string) Option {
	return optionFunc(func(opts *schedulerOptions) error {
		if name == "" {
			return errors.New("filament: empty scheduler name")
		}
		opts.name = name
		return nil
	})
}

// WithOffloadLimit bounds concurrent Offload goroutines.
func WithOffloadLimit(n int) Option {
	return optionFunc(func(opts *schedulerOptions) error {
		if n <= 0 {
			return errors.New("filament: offload limit must be positive")
		}
		opts.offloadLimit = int64(n)
		return nil
	})
}

// WithPollBatch sets how many readiness events a single poll may return.
func WithPollBatch(n int) Option {
	return optionFunc(func(opts *schedulerOptions) error {
		if n <= 0 {
			return errors.New("filament: poll batch must be positive")
		}
		opts.pollBatch = n
		return nil
	})
}

func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		offloadLimit: DefaultOffloadLimit,
		pollBatch:    DefaultPollBatch,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.name == "" {
		cfg.name = uuid.NewString()
	}
	return cfg, nil
}
