package engine

import (
	"context"
	"errors"
	"time"

	"frontdesk/internal/domain"
)

type RecoverReport struct {
	TimedOut int `json:"timed_out"`
	Rearmed  int `json:"rearmed"`
}

// Recover re-evaluates every pending request after a restart. Requests past
// their deadline are timed out now; the rest get a timer for the time left.
func (e *Engine) Recover(ctx context.Context) (RecoverReport, error) {
	pending, err := e.Requests.ListRequests(ctx, domain.RequestFilter{Status: domain.StatusPending})
	if err != nil {
		return RecoverReport{}, domain.Storage("help_request.list", err)
	}
	var (
		rep  RecoverReport
		errs []error
	)
	now := e.now()
	for _, req := range pending {
		if left := req.DueAt.Sub(now); left > 0 {
			e.arm(req.ID, left)
			rep.Rearmed++
			continue
		}
		won, err := e.TimeoutFire(ctx, req.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if won {
			rep.TimedOut++
		}
	}
	e.Logger.Info("pending help requests recovered", "timed_out", rep.TimedOut, "rearmed", rep.Rearmed)
	return rep, errors.Join(errs...)
}

// Sweep times out every pending request whose deadline has passed and
// returns how many it transitioned. Running it repeatedly is harmless.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	overdue, err := e.Requests.ListRequests(ctx, domain.RequestFilter{Status: domain.StatusPending, DueBefore: e.now()})
	if err != nil {
		return 0, domain.Storage("help_request.list", err)
	}
	var (
		n    int
		errs []error
	)
	for _, req := range overdue {
		won, err := e.TimeoutFire(ctx, req.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.Scheduler.Cancel(req.ID)
		if won {
			n++
		}
	}
	if n > 0 {
		e.Metrics.ArmedTimers.Set(float64(e.Scheduler.Pending()))
		e.Logger.Info("sweep timed out overdue help requests", "count", n)
	}
	return n, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return domain.Validation("sweep interval must be positive")
	}
	ticker := e.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.Logger.Error("sweep failed", "err", err)
			}
		}
	}
}
