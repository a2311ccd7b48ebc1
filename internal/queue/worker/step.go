package worker

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/userhub/internal/domain/job"
	"github.com/geocoder89/userhub/internal/jobs"
	"github.com/geocoder89/userhub/internal/notifications"
)

// ProcessOne claims and executes a single job synchronously. Returns whether
// a job was claimed. Used by tests and by the async fan-out path.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if err == job.ErrJobNotFound {
			return false, nil
		}
		return false, err
	}

	w.metrics.IncClaimed()
	w.runJob(ctx, j)

	return true, nil
}

func (w *Worker) runJob(ctx context.Context, j job.Job) {
	start := time.Now()

	err := w.execute(ctx, j)

	w.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		w.handleFailure(ctx, j, err)
		return
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		w.log.Error("mark done failed", "job_id", j.ID, "err", err)
		return
	}

	w.metrics.IncDone()
	w.log.Info("job done", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts)
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	switch j.Type {
	case jobs.TypeWelcome:
		p, err := jobs.DecodeWelcome(j.Payload)
		if err != nil {
			return err
		}

		return w.notifier.SendWelcome(ctx, notifications.SendWelcomeInput{
			UserID: p.UserID,
			Email:  p.Email,
			Name:   p.Name,
		})

	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	// attempts was already bumped by the claim
	if j.Attempts >= j.MaxAttempts || errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload) {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			w.log.Error("mark failed errored", "job_id", j.ID, "err", err)
			return
		}

		w.metrics.IncFailed()
		w.metrics.IncDeadLettered()
		w.log.Warn("job dead-lettered", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts, "err", execErr)
		return
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule failed", "job_id", j.ID, "err", err)
		return
	}

	w.metrics.IncRetried()
	w.log.Info("job rescheduled", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts, "run_at", runAt)
}
