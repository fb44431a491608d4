package sweep

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"agentsched/internal/dispatch"
	"agentsched/internal/schedule"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

type job func(ctx context.Context)

// Service owns the sweep ticker and the dispatch worker pool.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store *store.Store
	disp  *dispatch.Dispatcher
	log   logx.Logger

	queue    chan job
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	tickWG   sync.WaitGroup

	lastMu sync.Mutex
	last   Stats
}

func New(cfg Config, st *store.Store, disp *dispatch.Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		store: st,
		disp:  disp,
		log:   log,
	}
}

// Apply updates the config. Interval and pool sizing take effect on the next
// Start; only the enabled flag is honored live (a disabled service skips
// passes but keeps ticking).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Last returns the stats of the most recent sweep pass.
func (s *Service) Last() Stats {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	cfg := s.cfg
	s.queue = make(chan job, cfg.QueueSize)

	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()

	s.workerWG.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(ctx, stopCh, queue)
		}()
	}

	s.tickWG.Add(1)
	go func() {
		defer s.tickWG.Done()
		t := time.NewTicker(cfg.Interval)
		defer t.Stop()

		// Run immediately so work that came due while the process was down
		// isn't delayed a full interval.
		if s.Enabled() {
			s.RunSweep(ctx, time.Now())
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				if s.Enabled() {
					s.RunSweep(ctx, time.Now())
				}
			}
		}
	}()

	s.log.Info("sweep started",
		logx.Duration("interval", cfg.Interval),
		logx.Int("workers", cfg.Workers),
		logx.Int("queue_size", cfg.QueueSize))
}

// Stop halts the ticker and drains in-flight dispatches. Queued-but-unstarted
// dispatches are abandoned; the next process's first sweep picks them up
// again (they are still due and still stored).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	s.queue = nil
	s.mu.Unlock()

	close(stopCh)
	s.tickWG.Wait()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("sweep stopped")
	case <-ctx.Done():
		s.log.Warn("sweep stop timed out; abandoning in-flight dispatches")
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			j(ctx)
		}
	}
}

func (s *Service) enqueue(j job) bool {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return false
	}
	select {
	case q <- j:
		return true
	default:
		return false
	}
}

// RunSweep is the single trigger surface: one due-check-and-dispatch pass at
// the given instant. Exposed so tests (and a hypothetical external trigger)
// can drive it directly.
func (s *Service) RunSweep(ctx context.Context, now time.Time) Stats {
	start := time.Now()
	now = now.UTC()
	st := Stats{At: now}

	// Recurring: all tenants, every pass.
	err := s.store.WalkAllRecurring(func(rec schedule.Recurring) bool {
		st.RecurringChecked++
		due, derr := schedule.RecurringDue(rec, now)
		if derr != nil {
			// Isolate: a bad record must not sink the pass.
			s.log.Warn("skipping recurring schedule with bad cron",
				logx.String("schedule_id", rec.ID), logx.Err(derr))
			return true
		}
		if !due {
			return true
		}
		st.RecurringDue++
		if !s.enqueue(func(ctx context.Context) { s.disp.Recurring(ctx, rec, now) }) {
			st.Dropped++
		}
		return true
	})
	if err != nil {
		s.log.Error("recurring walk failed", logx.Err(err))
	}

	// One-time: only the current bucket.
	bucket := store.BucketFor(now)
	err = s.store.WalkBucketOneTime(bucket, func(ot schedule.OneTime) bool {
		st.OneTimeChecked++
		if !schedule.OneTimeDue(ot, now) {
			return true
		}
		st.OneTimeDue++
		if !s.enqueue(func(ctx context.Context) { s.disp.OneTime(ctx, ot) }) {
			st.Dropped++
		}
		return true
	})
	if err != nil {
		s.log.Error("one-time bucket walk failed", logx.String("bucket", bucket.String()), logx.Err(err))
	}

	st.CleanedDirs = s.store.Cleanup()
	st.Took = time.Since(start)

	if st.Dropped > 0 {
		s.log.Warn("dispatch queue full; dropped due schedules (next sweep retries)",
			logx.Int("dropped", st.Dropped))
	}
	if st.RecurringDue+st.OneTimeDue > 0 {
		s.log.Info("sweep pass",
			logx.Int("recurring_due", st.RecurringDue),
			logx.Int("onetime_due", st.OneTimeDue),
			logx.Duration("took", st.Took))
	} else {
		s.log.Debug("sweep pass idle", logx.Duration("took", st.Took))
	}

	s.lastMu.Lock()
	s.last = st
	s.lastMu.Unlock()
	return st
}
