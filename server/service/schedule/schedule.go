// Package schedule implements the scheduled event processor: a poller that
// periodically claims due deliveries and dispatches them to a bounded worker
// pool.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/log/level"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// DeliveryProcessor runs one attempt for a claimed delivery. Implemented by
// worker.Worker.
type DeliveryProcessor interface {
	ProcessDelivery(ctx context.Context, delivery *scimrelay.Delivery) error
}

// Options tune the poller. Zero values fall back to the listed defaults.
type Options struct {
	PollInterval time.Duration // default 5s
	BatchSize    int           // default 100
	Workers      int           // default 10
	DrainTimeout time.Duration // default 30s
	StaleClaim   time.Duration // default 10m
}

func (o *Options) fillDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	if o.StaleClaim <= 0 {
		o.StaleClaim = 10 * time.Minute
	}
}

// Schedule is the scheduled event processor. One instance is assumed per
// deployment; horizontal scaling would need a claim lease on top of what
// ClaimDueDeliveries provides.
type Schedule struct {
	ds        scimrelay.Datastore
	processor DeliveryProcessor
	opts      Options
	clock     clock.Clock
	log       kitlog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

var _ scimrelay.EventProcessor = (*Schedule)(nil)

// New returns a scheduled processor.
func New(ds scimrelay.Datastore, processor DeliveryProcessor, opts Options, c clock.Clock, logger kitlog.Logger) *Schedule {
	opts.fillDefaults()
	if c == nil {
		c = clock.C
	}
	return &Schedule{
		ds:        ds,
		processor: processor,
		opts:      opts,
		clock:     c,
		log:       kitlog.With(logger, "component", "schedule"),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Schedule) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(loopCtx)
	return nil
}

// Stop ends the tick loop and waits up to the drain timeout for in-flight
// deliveries. Deliveries abandoned at the deadline stay IN_PROGRESS and are
// reclaimed on the next startup.
func (s *Schedule) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		<-stopped
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(s.opts.DrainTimeout):
		level.Info(s.log).Log("msg", "drain timeout reached, abandoning in-flight deliveries")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEvent is a no-op for the polling implementation: fan-out happens at
// intake and the poller picks the deliveries up on its next tick.
func (s *Schedule) OnEvent(ctx context.Context, event *scimrelay.LocalEvent) error {
	return nil
}

func (s *Schedule) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			level.Debug(s.log).Log("exit", "done with schedule loop")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Schedule) tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	if n, err := s.ds.ReclaimStuckDeliveries(ctx, now.Add(-s.opts.StaleClaim)); err != nil {
		level.Error(s.log).Log("msg", "reclaim stuck deliveries", "err", err)
	} else if n > 0 {
		level.Info(s.log).Log("msg", "reclaimed stuck deliveries", "count", n)
	}

	batch, err := s.ds.ClaimDueDeliveries(ctx, now, s.opts.BatchSize)
	if err != nil {
		level.Error(s.log).Log("msg", "claim due deliveries", "err", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	level.Debug(s.log).Log("msg", "claimed deliveries", "count", len(batch))

	// Group by event so that the per-event work is dispatched together;
	// deliveries within a group still run in parallel and never influence
	// each other's outcome.
	groups := make(map[string][]*scimrelay.Delivery)
	order := make([]string, 0, len(batch))
	for _, d := range batch {
		if _, ok := groups[d.EventID]; !ok {
			order = append(order, d.EventID)
		}
		groups[d.EventID] = append(groups[d.EventID], d)
	}

	sem := make(chan struct{}, s.opts.Workers)
	for _, eventID := range order {
		for _, delivery := range groups[eventID] {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			s.wg.Add(1)
			go func(d *scimrelay.Delivery) {
				defer s.wg.Done()
				defer func() { <-sem }()
				s.process(ctx, d)
			}(delivery)
		}
	}
}

// process runs one delivery, isolating panics so that a crash in one
// attempt never takes down its siblings or the tick loop. A panicked
// delivery stays IN_PROGRESS and is reclaimed later.
func (s *Schedule) process(ctx context.Context, delivery *scimrelay.Delivery) {
	defer func() {
		if p := recover(); p != nil {
			level.Error(s.log).Log("msg", "panic processing delivery", "delivery_id", delivery.ID, "panic", p)
		}
	}()

	if err := s.processor.ProcessDelivery(ctx, delivery); err != nil {
		level.Error(s.log).Log("msg", "process delivery", "delivery_id", delivery.ID, "err", err)
	}
}
