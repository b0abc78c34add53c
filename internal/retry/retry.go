// Package retry retries operations with exponential backoff. The storage
// bootstrap uses Do to wait for the database; the progress channel uses
// Backoff to pace reconnect attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Config struct {
	// MaxAttempts counts the first attempt. Zero or less means retry until
	// the context ends.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) normalized() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Factor < 1 {
		c.Factor = 2.0
	}
	return c
}

// Do runs op until it succeeds, returns a permanent error, runs out of
// attempts or ctx is done. It returns the number of attempts made and the
// last error.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) (int, error) {
	b := NewBackoff(cfg)
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if IsPermanent(err) {
			return attempts, err
		}
		if cfg.MaxAttempts > 0 && attempts >= cfg.MaxAttempts {
			return attempts, err
		}
		if werr := Sleep(ctx, b.Next()); werr != nil {
			return attempts, err
		}
	}
}

// Backoff hands out successive delays. It is not safe for concurrent use.
type Backoff struct {
	cfg   Config
	delay time.Duration
	rnd   func() float64
}

func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.normalized()
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay, rnd: rand.Float64}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.delay
	next := time.Duration(float64(b.delay) * b.cfg.Factor)
	if next > b.cfg.MaxDelay {
		next = b.cfg.MaxDelay
	}
	b.delay = next
	if b.cfg.Jitter {
		// #nosec G404 -- jitter does not require cryptographic randomness
		d = time.Duration(float64(d) * (0.5 + b.rnd()))
	}
	return d
}

// Reset starts the sequence over, typically after a successful attempt.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
