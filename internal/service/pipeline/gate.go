// Package pipeline holds what the flight and hotel orchestrators share:
// per-session serialisation, the retry policy for safe steps, and the
// recorder that persists every attempt.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/keylock"
	"github.com/sirupsen/logrus"
)

type Locker interface {
	AcquireSessionLock(ctx context.Context, traceID string, ttl time.Duration) (string, bool, error)
	ReleaseSessionLock(ctx context.Context, traceID, token string) error
}

// Gate lets one pipeline step sequence run per trace id. Inside a process
// callers queue on a keyed mutex; across processes the optional Redis lock
// turns a concurrent attempt into ErrSessionBusy.
type Gate struct {
	local  *keylock.Map
	remote Locker
	ttl    time.Duration
	logger *logrus.Logger
}

func NewGate(remote Locker, ttl time.Duration, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{local: keylock.New(), remote: remote, ttl: ttl, logger: logger}
}

func (g *Gate) Enter(ctx context.Context, traceID string) (func(), error) {
	unlock := g.local.Lock(traceID)
	if g.remote == nil {
		return unlock, nil
	}

	token, ok, err := g.remote.AcquireSessionLock(ctx, traceID, g.ttl)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		unlock()
		return nil, fmt.Errorf("%w: trace %s", domain.ErrSessionBusy, traceID)
	}

	return func() {
		if err := g.remote.ReleaseSessionLock(context.WithoutCancel(ctx), traceID, token); err != nil {
			g.logger.WithField("trace_id", traceID).WithError(err).Warn("Failed to release session lock")
		}
		unlock()
	}, nil
}
