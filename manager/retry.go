package manager

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/store"
	"github.com/pevans/newsarchive/workunit"
)

// permanent errors are returned at once, whatever RetryOnError says.
var permanent = []error{
	context.Canceled,
	context.DeadlineExceeded,
	store.ErrSchemaMismatch,
	store.ErrInvalidTable,
	store.ErrInvalidMode,
	store.ErrUnknownURL,
	store.ErrAlreadyDone,
	store.ErrPublicConflict,
	store.ErrMissingURL,
	store.ErrClosed,
	adapter.ErrNaiveTimestamp,
	adapter.ErrLoginNotConfigured,
	workunit.ErrInvalidRange,
	workunit.ErrInvalidEdition,
	ErrMissingCredentials,
	ErrNoAnalyzer,
	ErrUnsupported,
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	for _, target := range permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// run calls op until it succeeds. Without RetryOnError the first error is
// returned. op must resume where the previous attempt stopped.
func (m *Manager) run(ctx context.Context, p pass, op func() error) error {
	if !m.opts.RetryOnError {
		return op()
	}

	attempt := 1
	b := backoff.WithContext(backoff.NewConstantBackOff(m.opts.RetryDelay), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		p.log.Error("pass failed, retrying",
			logger.Error(err),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait))
		attempt++
	})
}
