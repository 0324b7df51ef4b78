package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Hour

type RunnerFunc func(context.Context)

// SchedulerConfig configures a Scheduler. RunOnStart fires the runner once as
// soon as the loop starts instead of waiting a full interval.
type SchedulerConfig struct {
	Name       string
	Interval   time.Duration
	Runner     RunnerFunc
	RunOnStart bool
	Logger     *zap.Logger
}

// Scheduler runs a job on a fixed interval and on demand. Runs never overlap.
type Scheduler struct {
	name         string
	interval     time.Duration
	runner       RunnerFunc
	runOnStart   bool
	logger       *zap.Logger
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	runs         atomic.Int64
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	interval := config.Interval
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		name:       config.Name,
		interval:   interval,
		runner:     config.Runner,
		runOnStart: config.RunOnStart,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
	}
}

// Start launches the loop. Calling Start on a running scheduler is a no-op.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	loopContext, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	scheduler.cancel = cancel
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(loopContext, done)
}

// Trigger requests an extra run. Requests made while one is already queued collapse.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight run to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) Running() bool {
	if scheduler == nil {
		return false
	}
	scheduler.controlMutex.Lock()
	defer scheduler.controlMutex.Unlock()
	return scheduler.cancel != nil
}

// Runs reports how many times the runner has completed.
func (scheduler *Scheduler) Runs() int64 {
	if scheduler == nil {
		return 0
	}
	return scheduler.runs.Load()
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	if scheduler.runOnStart {
		scheduler.run(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.run(ctx)
			ticker.Reset(scheduler.interval)
		case <-ticker.C:
			scheduler.run(ctx)
		}
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.runner == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			scheduler.logger.Error("scheduled_task_panic", zap.String("task", scheduler.name), zap.Any("panic", recovered))
		}
		scheduler.runs.Add(1)
	}()
	scheduler.runner(ctx)
}
