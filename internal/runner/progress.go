package runner

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/metrics"
)

// progressReporter logs connection progress at a fixed interval until stopped.
type progressReporter struct {
	counters *metrics.Counters
	total    int
	interval time.Duration
	log      *zap.Logger

	done     chan struct{}
	finished chan struct{}
	active   int32
}

func newProgressReporter(counters *metrics.Counters, total int, interval time.Duration, log *zap.Logger) *progressReporter {
	return &progressReporter{
		counters: counters,
		total:    total,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start begins reporting in a background goroutine.
func (p *progressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts reporting and waits for the reporter goroutine to exit.
func (p *progressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
	}
}

func (p *progressReporter) run() {
	defer close(p.finished)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastActive int64
	for {
		select {
		case <-ticker.C:
			active := p.counters.Active()
			completed := p.counters.Completed()
			added := active - lastActive
			if added < 0 {
				added = 0
			}
			lastActive = active

			p.log.Info("progress",
				zap.Int64("active", active),
				zap.Int64("new", added),
				zap.Int64("completed", completed),
				zap.Int("total", p.total),
			)
			if completed >= int64(p.total) {
				return
			}
		case <-p.done:
			return
		}
	}
}
