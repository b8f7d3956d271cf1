// Package reconnect recovers active call sessions from transport loss with
// bounded exponential backoff. It deliberately knows nothing about the state
// machine beyond the three hooks below, so it can be tested in isolation.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotActive is returned when the wrapped session is not in a state
	// that supports resumption.
	ErrNotActive = errors.New("reconnect: session is not active")

	// ErrExhausted is returned when the retry budget ran out. The session
	// has been failed; it is not silently retried further.
	ErrExhausted = errors.New("reconnect: retry budget exhausted")
)

// Session is the slice of the session API the supervisor drives.
type Session interface {
	// BeginReconnecting moves an active session into the reconnecting
	// sub-state, keeping session and membership state intact. It reports
	// whether the session accepted the transition.
	BeginReconnecting() bool

	// CompleteReconnect returns the session to active. present is the
	// transport-reported participant set; anyone missing from it left
	// during the outage.
	CompleteReconnect(present []string)

	// FailReconnect transitions the session to its failed terminal state.
	FailReconnect(err error)
}

// Prober attempts one transport resumption. On success it returns the ids
// of participants the transport currently reports in the session.
type Prober interface {
	Resume(ctx context.Context) ([]string, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) ([]string, error)

func (f ProberFunc) Resume(ctx context.Context) ([]string, error) { return f(ctx) }

// Backoff controls the retry schedule.
type Backoff struct {
	// Base is the delay before the first attempt.
	Base time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// MaxAttempts caps how many resumptions are tried.
	MaxAttempts int
	// Budget caps the total time spent reconnecting.
	Budget time.Duration
}

func (b Backoff) withDefaults() Backoff {
	out := b
	if out.Base <= 0 {
		out.Base = time.Second
	}
	if out.Factor < 1 {
		out.Factor = 2
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.Budget <= 0 {
		out.Budget = 30 * time.Second
	}
	return out
}

// Supervisor drives recovery for sessions that lost their transport.
type Supervisor struct {
	cfg Backoff
	log *slog.Logger

	// sleep is injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(cfg Backoff, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:   cfg.withDefaults(),
		log:   log,
		sleep: sleepCtx,
	}
}

// Recover runs the full reconnection procedure for one session. It blocks
// until the session is back to active or has been failed, so callers run it
// on its own goroutine.
func (s *Supervisor) Recover(ctx context.Context, sess Session, probe Prober) error {
	if !sess.BeginReconnecting() {
		return ErrNotActive
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	delay := s.cfg.Base
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}

		present, err := probe.Resume(ctx)
		if err == nil {
			s.log.Info("transport resumed", "attempt", attempt)
			sess.CompleteReconnect(present)
			return nil
		}
		lastErr = err
		s.log.Warn("resumption attempt failed", "attempt", attempt, "err", err)

		delay = time.Duration(float64(delay) * s.cfg.Factor)
	}

	err := fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	sess.FailReconnect(err)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
