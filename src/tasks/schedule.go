package tasks

import (
	"context"
	"time"

	"marketrouter/src/utils"
)

// RunHourly runs unit at every top of the hour until ctx is done. A failed run is logged
// and the schedule continues.
func (r *Runner) RunHourly(ctx context.Context, name string, unit Unit) error {
	return r.runAligned(ctx, name, unit, utils.UntilNextHour)
}

// RunNowAndHourly runs unit once immediately, then at every top of the hour.
func (r *Runner) RunNowAndHourly(ctx context.Context, name string, unit Unit) error {
	r.runOnce(ctx, name, unit)
	return r.RunHourly(ctx, name, unit)
}

func (r *Runner) runAligned(ctx context.Context, name string, unit Unit, wait func(time.Time) time.Duration) error {
	for {
		timer := time.NewTimer(wait(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.Log.WithField("unit", name).Info("schedule stopped")
			return nil
		case <-timer.C:
			r.runOnce(ctx, name, unit)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, unit Unit) {
	if err := unit(ctx).Err(); err != nil {
		r.Log.WithField("unit", name).WithError(err).Warn("scheduled run finished with errors")
	}
}
