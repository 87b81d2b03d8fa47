package parkour

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler ticks the controller at a fixed interval and owns the worker
// pool that per-session jobs run on.
type Scheduler struct {
	controller *Controller
	log        *slog.Logger

	// Worker pool
	workers    int
	workerPool chan func()
	workerWG   sync.WaitGroup
	poolMu     sync.RWMutex

	// Execution state
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}

	// Tick tracking
	tickRate   time.Duration
	lastTick   atomic.Int64
	tickNumber atomic.Uint64
}

// newScheduler creates a new scheduler.
func newScheduler(c *Controller, tickRate time.Duration) *Scheduler {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		controller: c,
		log:        c.log,
		workers:    workers,
		workerPool: make(chan func(), workers*4),
		tickRate:   tickRate,
		ctx:        ctx,
		cancel:     cancel,
		doneCh:     make(chan struct{}),
	}
}

// Start begins the scheduler's tick loop.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return // Already running
	}

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.worker()
	}

	go s.tickLoop()
}

// Stop gracefully shuts down the scheduler, waiting for the tick in progress.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return // Not running
	}

	s.cancel()
	<-s.doneCh

	s.poolMu.Lock()
	close(s.workerPool)
	s.poolMu.Unlock()
	s.workerWG.Wait()
}

// TickNumber returns the number of ticks run so far.
func (s *Scheduler) TickNumber() uint64 {
	return s.tickNumber.Load()
}

// LastTick returns the time the last tick started, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	ns := s.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// worker is a pool worker that executes jobs.
func (s *Scheduler) worker() {
	defer s.workerWG.Done()
	for fn := range s.workerPool {
		s.run(fn)
	}
}

// submit queues a job on the worker pool. It returns false when the pool is
// full or stopped, in which case the caller runs the job itself.
func (s *Scheduler) submit(job func()) bool {
	s.poolMu.RLock()
	defer s.poolMu.RUnlock()
	if !s.running.Load() {
		return false
	}

	select {
	case s.workerPool <- job:
		return true
	default:
		return false
	}
}

// tickLoop is the main scheduler loop.
func (s *Scheduler) tickLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick executes one scheduler tick.
func (s *Scheduler) tick(now time.Time) {
	s.tickNumber.Add(1)
	s.lastTick.Store(now.UnixNano())

	s.run(func() {
		s.controller.Tick(s.ctx)
	})
}

// run executes fn, recovering a panic so one faulty session cannot stop the
// scheduler.
func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("parkour: panic in scheduled job", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
