package remote

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"
)

// StatusFileUnavailable is the FTP reply code for a missing file or directory.
const StatusFileUnavailable = 550

// outcome is the result of a single attempt of a remote operation
type outcome int

const (
	succeeded outcome = iota
	transient
	permanent
)

// IsNotFound reports whether err is the server saying the path does not exist.
func IsNotFound(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == StatusFileUnavailable
}

// classify maps an error to an outcome. Permanent (5xx) replies are not
// retried; 4xx replies and connection-level failures are.
func classify(err error) outcome {
	if err == nil {
		return succeeded
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return permanent
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return permanent
		}
		return transient
	}
	return transient
}

// retry runs attempt up to r.opts.Attempts times with a fixed delay between
// transient failures.
func (r *Reconciler) retry(ctx context.Context, op, target string, attempt func() (outcome, error)) error {
	var lastErr error
	for i := 1; i <= r.opts.Attempts; i++ {
		res, err := attempt()
		switch res {
		case succeeded:
			return nil
		case permanent:
			return fmt.Errorf("%s %s: %w", op, target, err)
		}

		lastErr = err
		r.logger.Warn(op+" attempt failed",
			"path", target,
			"attempt", i,
			"attempts", r.opts.Attempts,
			"error", err)

		if i < r.opts.Attempts {
			r.logger.Info("retrying", "path", target, "delay", r.opts.Delay)
			if err := r.sleep(ctx, r.opts.Delay); err != nil {
				return fmt.Errorf("%s %s: %w", op, target, err)
			}
		}
	}
	return fmt.Errorf("%s %s: giving up after %d attempts: %w", op, target, r.opts.Attempts, lastErr)
}

// sleepContext blocks for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
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
