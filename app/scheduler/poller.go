package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	businessflow "github.com/amirphl/Kagemusha/business_flow"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CycleSummary reports what one poll cycle accomplished
type CycleSummary struct {
	Tasks                *ProcessResult `json:"tasks"`
	SweepScheduled       int            `json:"sweep_scheduled"`
	AccountSyncScheduled int            `json:"account_sync_scheduled"`
	Duration             time.Duration  `json:"duration"`
}

// Poller drives the delivery automation on a fixed interval. Each cycle
// processes due tasks and then sweeps for deliveries whose scheduled check
// got lost. Cycles never overlap: a tick that fires while the previous cycle
// is still running is skipped, not queued.
type Poller struct {
	dispatcher *Dispatcher
	flow       businessflow.ManagedDeliveryFlow
	logger     *log.Logger
	interval   time.Duration
	batchSize  int

	inFlight atomic.Bool
}

func NewPoller(dispatcher *Dispatcher, flow businessflow.ManagedDeliveryFlow, logger *log.Logger, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		dispatcher: dispatcher,
		flow:       flow,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// NewSchedulerLogger builds the poller's logger, writing to stdout and a
// size-rotated file under dir. Falls back to stdout only when the directory
// cannot be created.
func NewSchedulerLogger(dir string) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l := log.New(os.Stdout, "scheduler ", flags)
		l.Printf("scheduler: file logging disabled, cannot create %s: %v", dir, err)
		return l
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "scheduler.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, rotator), "scheduler ", flags)
}

// Start launches the poll loop in a background goroutine and returns a stop
// function. The first cycle runs immediately rather than waiting a full tick.
func (p *Poller) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (p *Poller) runOnce(ctx context.Context) {
	summary, ran := p.RunCycle(ctx)
	if !ran {
		p.logger.Printf("scheduler: previous cycle still running, skipping tick")
		return
	}
	if summary.Tasks != nil && summary.Tasks.Processed > 0 {
		p.logger.Printf("scheduler: cycle done in %s: %d tasks (%d ok, %d failed), %d checks swept",
			summary.Duration, summary.Tasks.Processed, summary.Tasks.Succeeded, summary.Tasks.Failed, summary.SweepScheduled)
	}
}

// RunCycle executes one poll cycle. The returned bool is false when another
// cycle was already in flight and this one was skipped.
func (p *Poller) RunCycle(ctx context.Context) (*CycleSummary, bool) {
	if !p.inFlight.CompareAndSwap(false, true) {
		cyclesSkippedTotal.Inc()
		return nil, false
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	summary := &CycleSummary{}

	tasks, err := p.dispatcher.ProcessPendingTasks(ctx, p.batchSize)
	if err != nil {
		p.logger.Printf("scheduler: process pending tasks failed: %v", err)
	} else {
		summary.Tasks = tasks
	}

	swept, err := p.flow.SweepDueDeliveries(ctx)
	if err != nil {
		p.logger.Printf("scheduler: sweep due deliveries failed: %v", err)
	} else {
		summary.SweepScheduled = swept
		sweepScheduledTotal.Add(float64(swept))
	}

	synced, err := p.flow.SyncStaleAccounts(ctx)
	if err != nil {
		p.logger.Printf("scheduler: sync stale accounts failed: %v", err)
	} else {
		summary.AccountSyncScheduled = synced
		accountSyncScheduledTotal.Add(float64(synced))
	}

	summary.Duration = time.Since(start)
	cycleDuration.Observe(summary.Duration.Seconds())
	return summary, true
}
