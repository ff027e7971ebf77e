package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"ragdesk/internal/ai"
	"ragdesk/internal/logging"
)

// CompletionBackend is the OpenAI-compatible inference backend.
type CompletionBackend interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
	OpenStream(ctx context.Context, messages []ai.ChatMessage) (ai.TokenStream, error)
}

// Sink receives deltas in order. An error means the client is gone.
type Sink func(delta string) error

type RelayOptions struct {
	Attempts    int
	BaseDelay   time.Duration
	IdleTimeout time.Duration
	// Buffer bounds how many deltas may wait between backend and client.
	Buffer int
}

// Relay streams a completion to a Sink. Only establishing the stream is
// retried: once the first delta arrived, any failure ends the turn.
type Relay struct {
	backend CompletionBackend
	opts    RelayOptions
	log     logging.Logger
}

func NewRelay(backend CompletionBackend, opts RelayOptions, log logging.Logger) *Relay {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 8
	}
	return &Relay{backend: backend, opts: opts, log: log.With("component", "relay")}
}

type relayEvent struct {
	delta string
	err   error
}

// idleGuard cancels a stream that stays silent for longer than d.
type idleGuard struct {
	d     time.Duration
	timer *time.Timer
	fired atomic.Bool
}

func newIdleGuard(d time.Duration, cancel context.CancelFunc) *idleGuard {
	g := &idleGuard{d: d}
	g.timer = time.AfterFunc(d, func() {
		g.fired.Store(true)
		cancel()
	})
	g.timer.Stop()
	return g
}

func (g *idleGuard) next(stream ai.TokenStream) (string, error) {
	g.timer.Reset(g.d)
	delta, err := stream.Next()
	g.timer.Stop()
	if err != nil && g.fired.Load() {
		return "", fmt.Errorf("no data for %s: %w", g.d, err)
	}
	return delta, err
}

// linearBackoff waits attempt × base before retry number attempt.
func linearBackoff(base time.Duration, attempts int) retry.Backoff {
	var n int64
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Stream returns the full relayed text after a natural end. Errors are
// ErrBackendUnavailable (never established), ErrStreamInterrupted (broke
// after output started) or ErrClientGone (sink failed or ctx cancelled).
func (r *Relay) Stream(ctx context.Context, messages []ai.ChatMessage, sink Sink) (string, error) {
	var (
		stream       ai.TokenStream
		streamCancel context.CancelFunc
		guard        *idleGuard
		first        string
		ended        bool
		attempt      int
	)

	err := retry.Do(ctx, linearBackoff(r.opts.BaseDelay, r.opts.Attempts), func(ctx context.Context) error {
		attempt++
		streamCtx, cancel := context.WithCancel(ctx)
		s, err := r.backend.OpenStream(streamCtx, messages)
		if err != nil {
			cancel()
			return r.retryable(ctx, attempt, err)
		}
		g := newIdleGuard(r.opts.IdleTimeout, cancel)
		delta, err := g.next(s)
		if err != nil && !errors.Is(err, io.EOF) {
			_ = s.Close()
			cancel()
			return r.retryable(ctx, attempt, err)
		}
		stream, streamCancel, guard, first, ended = s, cancel, g, delta, errors.Is(err, io.EOF)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
		}
		r.log.Error(ctx, "completion backend unavailable", "attempts", attempt, "err", err)
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ended {
		streamCancel()
		_ = stream.Close()
		return "", nil
	}

	events := make(chan relayEvent, r.opts.Buffer)
	streamCtx, stop := context.WithCancel(ctx)
	go func() {
		defer close(events)
		for {
			delta, err := guard.next(stream)
			select {
			case events <- relayEvent{delta: delta, err: err}:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		stop()
		streamCancel()
		for range events {
		}
		_ = stream.Close()
	}()

	var full strings.Builder
	write := func(delta string) error {
		if err := sink(delta); err != nil {
			return fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		full.WriteString(delta)
		return nil
	}

	if err := write(first); err != nil {
		return "", err
	}
	// the next delta is pulled only after the previous write returned
	for ev := range events {
		if ev.err != nil {
			switch {
			case errors.Is(ev.err, io.EOF):
				return full.String(), nil
			case ctx.Err() != nil:
				return "", fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
			default:
				r.log.Warn(ctx, "stream interrupted after partial output", "relayed_bytes", full.Len(), "err", ev.err)
				return "", fmt.Errorf("%w: %v", ErrStreamInterrupted, ev.err)
			}
		}
		if err := write(ev.delta); err != nil {
			return "", err
		}
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
	}
	return "", ErrStreamInterrupted
}

func (r *Relay) retryable(ctx context.Context, attempt int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.log.Warn(ctx, "completion attempt failed", "attempt", attempt, "err", err)
	return retry.RetryableError(err)
}

// Complete is the non-streaming call with the same retry policy.
func (r *Relay) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	var (
		out     string
		attempt int
	)
	err := retry.Do(ctx, linearBackoff(r.opts.BaseDelay, r.opts.Attempts), func(ctx context.Context) error {
		attempt++
		s, err := r.backend.Complete(ctx, messages)
		if err != nil {
			return r.retryable(ctx, attempt, err)
		}
		out = s
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return out, nil
}
