package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/userhub/internal/domain/job"
	"github.com/geocoder89/userhub/internal/notifications"
	"github.com/geocoder89/userhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	LockTTL       time.Duration
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	notifier notifications.Notifier
	metrics  *observability.JobMetrics
	log      *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, notifier notifications.Notifier, metrics *observability.JobMetrics, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// Run polls for runnable jobs until ctx is cancelled, fanning execution out
// over cfg.Concurrency slots. In-flight jobs get ShutdownGrace to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(w.cfg.LockTTL)
	defer staleTicker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(w.cfg.ShutdownGrace):
				w.log.Warn("shutdown grace elapsed with jobs still in flight")
			}
			return nil

		case <-staleTicker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				w.log.Error("stale requeue failed", "err", err)
			} else if n > 0 {
				w.log.Info("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			// drain as many jobs as there are free slots
			for {
				select {
				case sem <- struct{}{}:
				default:
					goto wait
				}

				claimed, err := w.ProcessOneAsync(ctx, sem, &wg)
				if err != nil {
					w.log.Error("claim error", "err", err)
					<-sem
					goto wait
				}
				if !claimed {
					<-sem
					goto wait
				}
			}
		wait:
		}
	}
}

// ProcessOneAsync claims one job and, when there is one, executes it on its
// own goroutine. Returns whether a job was claimed.
func (w *Worker) ProcessOneAsync(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) (bool, error) {
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

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-sem }()

		w.runJob(ctx, j)
	}()

	return true, nil
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}
