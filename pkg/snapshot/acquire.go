package snapshot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
)

// AcquirePolicy bounds snapshot capture retries.
type AcquirePolicy struct {
	Attempts        int // total captures, at least 1
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultAcquirePolicy retries twice with a short exponential backoff.
func DefaultAcquirePolicy() AcquirePolicy {
	return AcquirePolicy{
		Attempts:        3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p AcquirePolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Acquire captures a dump from dev, parses it and registers it in cache.
// Capture and parse failures are retried per policy; the final failure is
// core.ErrAcquisitionFailed. The caller owns the returned handle.
func Acquire(ctx context.Context, dev core.Device, cache *Cache, policy AcquirePolicy) (*Handle, error) {
	var (
		h        *Handle
		attempts int
	)
	op := func() error {
		attempts++
		raw, err := dev.CaptureSnapshot(ctx)
		if err != nil {
			return err
		}
		h, err = cache.Register(raw)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("snapshot capture failed (attempt %d), retrying in %v: %v", attempts, wait, err)
	}

	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, core.ErrAcquisitionFailed.
			WithMessagef("no usable UI dump after %d attempts", attempts).
			WithCause(err).
			WithDetails(map[string]interface{}{"attempts": attempts})
	}
	logger.Debug("acquired %s", h.Snapshot())
	return h, nil
}
