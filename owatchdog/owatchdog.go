// Package owatchdog provides a liveness watchdog for the node's
// long-running subsystems. Subsystems opt in with an interval, a jitter
// range, and a response timeout; a subsystem that fails to acknowledge
// a poll within its timeout causes the watchdog to cancel the whole
// node's context with a cause identifying the stalled subsystem.
package owatchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/obelisk-engine/obelisk/internal/ochan"
)

// Watchdog polls registered subsystems and tears the node down
// when one stops responding.
type Watchdog struct {
	log *slog.Logger

	cancel context.CancelCauseFunc

	// Nil on a no-op watchdog; Register then returns a nil channel.
	registrations chan registration

	wg sync.WaitGroup
}

// Signal is one liveness poll. The receiving subsystem must close
// Alive from its main loop to acknowledge that it is still processing
// events.
type Signal struct {
	Alive chan<- struct{}
}

// SubsystemConfig describes how one subsystem is polled.
type SubsystemConfig struct {
	// Name identifies the subsystem in logs and in the
	// termination cause.
	Name string

	// The subsystem is polled every Interval plus a uniformly
	// distributed offset in [-Jitter, +Jitter).
	Interval, Jitter time.Duration

	// ResponseTimeout bounds how long the subsystem has to both
	// receive the signal and close its Alive channel.
	ResponseTimeout time.Duration
}

func (c SubsystemConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("SubsystemConfig.Name must not be empty"))
	}
	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("SubsystemConfig.Interval must be positive"))
	}
	if c.Jitter <= 0 || c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("SubsystemConfig.Jitter must be in (0, Interval]"))
	}
	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("SubsystemConfig.ResponseTimeout must be positive"))
	}
	return err
}

type registration struct {
	Cfg  SubsystemConfig
	Resp chan (<-chan Signal)
}

// New returns a watchdog and a context derived from ctx.
// The returned context is canceled when any registered subsystem
// misses its response timeout, or on a call to Terminate.
func New(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:           log,
		cancel:        cancel,
		registrations: make(chan registration), // Registration is synchronous.
	}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx)
	return w, wCtx
}

// NewNop returns a watchdog that accepts no registrations
// but still honors Terminate. For tests.
func NewNop(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{log: log, cancel: cancel}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx)
	return w, wCtx
}

// Wait blocks until the watchdog's goroutines finish, which happens
// when the context passed to New is canceled.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context with a
// [ForcedTerminationError] cause.
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

func (w *Watchdog) kernel(rootCtx, wCtx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-rootCtx.Done():
			w.log.Info(
				"Watchdog stopping due to root context cancellation",
				"cause", context.Cause(rootCtx),
			)
			return
		case reg := <-w.registrations:
			sigCh := make(chan Signal) // Polling is synchronous.
			w.wg.Add(1)
			// Pollers run off the watchdog context so that one
			// stalled subsystem also stops the remaining pollers.
			go w.poll(wCtx, reg.Cfg, sigCh)
			reg.Resp <- sigCh
		}
	}
}

// Register subscribes a subsystem to liveness polling. The subsystem
// must receive from the returned channel in its main loop and close
// each signal's Alive channel promptly.
//
// Register returns a nil channel on a no-op watchdog, or if ctx is
// canceled before the registration is accepted.
func (w *Watchdog) Register(ctx context.Context, cfg SubsystemConfig) <-chan Signal {
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("(*Watchdog).Register: invalid config: %w", err))
	}

	if w.registrations == nil {
		return nil
	}

	reg := registration{
		Cfg:  cfg,
		Resp: make(chan (<-chan Signal), 1),
	}
	ch, _ := ochan.ReqResp(
		ctx, w.log,
		w.registrations, reg,
		reg.Resp,
		"registering watchdog subsystem",
	)
	return ch
}

func (w *Watchdog) poll(ctx context.Context, cfg SubsystemConfig, sigCh chan<- Signal) {
	defer w.wg.Done()

	// Per-poller RNG so concurrent pollers do not contend on a mutex.
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		offset := time.Duration(rng.Int64N(int64(2*cfg.Jitter)) - int64(cfg.Jitter))
		timer := time.NewTimer(cfg.Interval + offset)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !w.checkOnce(ctx, cfg, sigCh) {
				return
			}
		}
	}
}

// checkOnce delivers one signal and waits for the acknowledgement.
// It returns false when the poller should stop.
func (w *Watchdog) checkOnce(ctx context.Context, cfg SubsystemConfig, sigCh chan<- Signal) bool {
	alive := make(chan struct{})
	timer := time.NewTimer(cfg.ResponseTimeout)
	defer timer.Stop()

	// The timeout covers both delivering the signal
	// and receiving the acknowledgement.
	select {
	case <-ctx.Done():
		return false
	case sigCh <- Signal{Alive: alive}:
	case <-timer.C:
		w.cancel(StalledSubsystemError{Name: cfg.Name})
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-timer.C:
		// The runtime picks select cases at random, so the
		// acknowledgement may have raced the timer; check once more
		// before declaring the subsystem stalled.
		select {
		case <-alive:
			return true
		default:
			w.cancel(StalledSubsystemError{Name: cfg.Name})
			return false
		}
	}
}
