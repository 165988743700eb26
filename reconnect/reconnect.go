// Package reconnect wraps a transport.Dialer with exponential backoff,
// retrying a broken Session's Wire at the session level rather than
// inside any single dial attempt (spec §6: reconnection is Session's
// concern, never a transport's).
package reconnect

import (
	"fmt"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/retry/exponential"

	"github.com/asterisque/asterisque/transport"
)

// Policy controls the backoff schedule between dial attempts.
type Policy = exponential.Policy

// FastPolicy retries quickly; suitable for same-datacenter peers.
func FastPolicy() Policy { return exponential.FastRetryPolicy() }

// SlowPolicy backs off over seconds; suitable for unreliable networks.
func SlowPolicy() Policy { return exponential.SecondsRetryPolicy() }

// WidePolicy backs off over tens of seconds; suitable for a peer that
// may be down for an extended maintenance window.
func WidePolicy() Policy { return exponential.ThirtySecondsRetryPolicy() }

// OnAttempt is called after each dial attempt with the attempt's
// zero-based index and the error it returned (nil on success), for
// logging or metrics.
type OnAttempt func(attempt int, err error)

// Dialer retries an underlying transport.Dialer's Dial calls on failure
// according to a Policy, until ctx is cancelled or a dial succeeds.
type Dialer struct {
	inner     transport.Dialer
	backoff   *exponential.Backoff
	onAttempt OnAttempt
}

// New wraps inner with the given backoff policy. onAttempt may be nil.
func New(inner transport.Dialer, policy Policy, onAttempt OnAttempt) (*Dialer, error) {
	b, err := exponential.New(exponential.WithPolicy(policy))
	if err != nil {
		return nil, fmt.Errorf("reconnect: building backoff: %w", err)
	}
	return &Dialer{inner: inner, backoff: b, onAttempt: onAttempt}, nil
}

// Dial retries inner.Dial until it succeeds or ctx is done.
func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	attempt := 0
	var t transport.Transport
	err := d.backoff.Retry(ctx, func(retryCtx context.Context, r exponential.Record) error {
		var dialErr error
		t, dialErr = d.inner.Dial(retryCtx)
		if d.onAttempt != nil {
			d.onAttempt(attempt, dialErr)
		}
		attempt++
		return dialErr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

var _ transport.Dialer = (*Dialer)(nil)
