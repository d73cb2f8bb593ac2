package runner

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/protocol"
	"github.com/torosent/wsbench/internal/tracker"
	"github.com/torosent/wsbench/internal/worker"
)

// Runner coordinates one benchmark run.
type Runner struct {
	opt        Options
	aggregator *metrics.Aggregator
	tracker    *tracker.Tracker
	ids        *worker.IDSequence
}

// New returns a Runner for opt. Options are validated by Run.
func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:        opt,
		aggregator: metrics.NewAggregator(),
		tracker:    tracker.New(),
		ids:        &worker.IDSequence{},
	}
}

// Aggregator exposes the run's measurements, for example to observe a run in progress.
func (r *Runner) Aggregator() *metrics.Aggregator {
	return r.aggregator
}

// Run opens every connection, waits until all of them have completed and
// returns the summary. Cancelling ctx stops launching batches and closes the
// open connections; a summary of what was measured is still returned.
func (r *Runner) Run(ctx context.Context) (metrics.Summary, error) {
	if err := r.opt.validate(); err != nil {
		return metrics.Summary{}, err
	}

	runID := ulid.Make().String()
	log := r.opt.Logger.With(zap.String("run_id", runID))

	cfg := &worker.Config{
		Target:         r.opt.Target,
		Requests:       r.opt.RequestsPerConnection,
		Interval:       r.opt.Interval,
		DrainTimeout:   r.opt.DrainTimeout,
		UsernamePrefix: r.opt.UsernamePrefix,
		Template:       protocol.NewRequestTemplate(r.opt.MessageType, r.opt.MessageData),
		QueueSize:      r.opt.QueueSize,
	}
	deps := worker.Deps{
		Dialer:        r.opt.Dialer,
		Aggregator:    r.aggregator,
		Tracker:       r.tracker,
		IDs:           r.ids,
		Logger:        log,
		Tracer:        r.opt.Tracer,
		OnStateChange: r.opt.OnStateChange,
	}

	log.Info("benchmark starting",
		zap.String("target", r.opt.Target),
		zap.Int("connections", r.opt.Connections),
		zap.Int("requests_per_connection", r.opt.RequestsPerConnection),
		zap.Duration("interval", r.opt.Interval),
		zap.Duration("ramp_up", r.opt.RampUp),
	)

	counters := r.aggregator.Counters()
	start := time.Now()

	progress := newProgressReporter(counters, r.opt.Connections, r.opt.ProgressInterval, log)
	progress.Start()
	defer progress.Stop()

	launched := r.launch(ctx, cfg, deps)
	if skipped := r.opt.Connections - launched; skipped > 0 {
		log.Info("run cancelled before every connection was launched", zap.Int("skipped", skipped))
		counters.ConnectionsSkipped(skipped)
	}

	r.waitForCompletion(counters)
	end := time.Now()
	progress.Stop()

	summary := r.aggregator.Summarize(start, end)
	summary.RunID = runID
	summary.Connections = r.opt.Connections

	log.Info("benchmark complete",
		zap.Int64("total_requests", summary.TotalRequests),
		zap.Int64("successful_requests", summary.SuccessfulRequests),
		zap.Duration("total_time", summary.TotalTime),
		zap.Float64("requests_per_second", summary.RequestsPerSecond),
	)
	return summary, nil
}

// launch starts the ramp-up batches and returns how many workers were started.
// Workers are detached; their completion is observed through the counters.
func (r *Runner) launch(ctx context.Context, cfg *worker.Config, deps worker.Deps) int {
	plan := rampPlan(r.opt.Connections)
	delay := batchDelay(r.opt.RampUp)

	launched := 0
	for i, b := range plan {
		if ctx.Err() != nil {
			return launched
		}
		for idx := b.first; idx < b.first+b.count; idx++ {
			w := worker.New(idx, cfg, deps)
			go w.Run(ctx)
		}
		launched += b.count

		if i == len(plan)-1 || delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return launched
		}
	}
	return launched
}

func (r *Runner) waitForCompletion(counters *metrics.Counters) {
	target := int64(r.opt.Connections)
	if counters.Completed() >= target {
		return
	}
	ticker := time.NewTicker(r.opt.PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if counters.Completed() >= target {
			return
		}
	}
}
