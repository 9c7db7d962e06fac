package fulfillment

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/types/order"
)

type Refresher interface {
	Refresh(ctx context.Context, o *order.Order) (*order.Order, error)
}

type PollLister interface {
	ListOrdersForPolling(ctx context.Context, since time.Time, limit int) ([]order.Order, error)
}

// Lease is the subset of the redis locker the poller needs.
type Lease interface {
	TryLockFor(ctx context.Context, scope, id string, ttl time.Duration) (bool, error)
}

type PollerConfig struct {
	Workers   int
	Interval  time.Duration
	BatchSize int
	Lookback  time.Duration
	// CallTimeout bounds each partner status check.
	CallTimeout time.Duration
}

// Poller periodically refreshes every submitted, not yet shipped order.
type Poller struct {
	cfg     PollerConfig
	repo    PollLister
	tracker Refresher
	lease   Lease
	now     func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(cfg PollerConfig, repo PollLister, tracker Refresher, lease Lease) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Poller{
		cfg:     cfg,
		repo:    repo,
		tracker: tracker,
		lease:   lease,
		now:     time.Now,
		log:     logger.New("poller"),
	}
}

// Start runs the dispatcher in the background. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		p.dispatcherLoop(ctx)
	}(p.done)
}

// Stop cancels the dispatcher and waits for the in-flight batch to drain.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) dispatcherLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poller started", "interval", p.cfg.Interval, "workers", p.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			if !p.acquireCycle(ctx) {
				continue
			}
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.Error("poll cycle failed", "err", err)
			}
		}
	}
}

// acquireCycle takes the lease for the current wall-clock cycle so that only one
// process instance polls it.
func (p *Poller) acquireCycle(ctx context.Context) bool {
	if p.lease == nil {
		return true
	}
	cycle := strconv.FormatInt(p.now().Truncate(p.cfg.Interval).Unix(), 10)
	ok, err := p.lease.TryLockFor(ctx, "poller:tick", cycle, p.cfg.Interval)
	if err != nil {
		// без redis опрашиваем как единственный экземпляр
		p.log.Warn("poller lease unavailable", "err", err)
		return true
	}
	if !ok {
		p.log.Debug("cycle taken by another instance", "cycle", cycle)
	}
	return ok
}

// RunOnce polls one batch of candidates and returns how many were checked.
// A failing order is logged and does not stop the rest of the batch.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	orders, err := p.repo.ListOrdersForPolling(ctx, p.now().Add(-p.cfg.Lookback), p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		p.log.Debug("no orders to poll")
		return 0, nil
	}
	p.log.Info("polling orders", "count", len(orders))

	workers := p.cfg.Workers
	if workers > len(orders) {
		workers = len(orders)
	}
	jobs := make(chan order.Order, len(orders))
	for _, o := range orders {
		jobs <- o
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(ctx, id, jobs, p.tracker, p.cfg.CallTimeout, p.log)
		}(i)
	}
	wg.Wait()
	return len(orders), nil
}

func workerLoop(
	ctx context.Context,
	id int,
	jobs <-chan order.Order,
	tracker Refresher,
	timeout time.Duration,
	log *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-jobs:
			if !ok {
				return
			}
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			updated, err := tracker.Refresh(callCtx, &o)
			cancel()
			if err != nil {
				log.Warn("refresh failed", "worker", id, "order", o.ID, "err", err)
				continue
			}
			log.Debug("order refreshed", "worker", id, "order", o.ID, "shipped", updated.ShippedAt != nil)
		}
	}
}
