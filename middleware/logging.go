package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/gantry/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *job.Description, next Handler) (job.Result, error) {
		logger.Info("job started",
			slog.String("job_type", d.Type),
			slog.String("job_id", d.ID.String()),
			slog.String("queue", d.Queue),
			slog.Int("attempt", d.Attempt),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			logger.Error("job failed",
				slog.String("job_type", d.Type),
				slog.String("job_id", d.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case res.State == job.StateRescheduled:
			logger.Info("job rescheduled",
				slog.String("job_type", d.Type),
				slog.String("job_id", d.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Time("due_at", res.DueAt),
			)
		case res.State == job.StateErrored:
			logger.Error("job errored",
				slog.String("job_type", d.Type),
				slog.String("job_id", d.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("status_info", res.StatusInfo),
			)
		default:
			logger.Info("job completed",
				slog.String("job_type", d.Type),
				slog.String("job_id", d.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res, err
	}
}
