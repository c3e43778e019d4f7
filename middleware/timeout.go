package middleware

import (
	"context"
	"time"

	"github.com/xraph/gantry/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// Zero disables the deadline. The engine itself imposes no timeout; jobs
// must self-limit or the store's lease expiry reclaims them.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Description, next Handler) (job.Result, error) {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
