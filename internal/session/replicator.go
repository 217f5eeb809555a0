package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/logger"
	"cartsync/internal/metrics"
)

type saveJob struct {
	identity Identity
	record   cart.Record
}

// Replicator is a write-behind saver for cart records. A single worker
// performs saves one at a time in submission order. While a key waits, newer
// submissions for it replace the queued snapshot, so an older save can never
// land after a newer one.
type Replicator struct {
	store   *CartStore
	log     *zap.Logger
	metrics *metrics.Registry
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]saveJob
	queue    []string
	inflight bool
	idle     chan struct{} // closed while nothing is queued or in flight

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewReplicator starts the worker. Close stops it after draining.
// timeout bounds each individual save; zero means no bound.
func NewReplicator(store *CartStore, log *zap.Logger, m *metrics.Registry, timeout time.Duration) *Replicator {
	r := newReplicator(store, log, m, timeout)
	go r.run()
	return r
}

func newReplicator(store *CartStore, log *zap.Logger, m *metrics.Registry, timeout time.Duration) *Replicator {
	idle := make(chan struct{})
	close(idle)
	r := &Replicator{
		store:   store,
		log:     logger.OrNop(log),
		metrics: m,
		timeout: timeout,
		pending: make(map[string]saveJob),
		idle:    idle,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	return r
}

// Submit queues a save of rec under id and returns immediately.
func (r *Replicator) Submit(id Identity, rec cart.Record) {
	key := SessionKey(id)
	r.mu.Lock()
	if _, queued := r.pending[key]; queued {
		if r.metrics != nil {
			r.metrics.Coalesced.Inc()
		}
	} else {
		r.queue = append(r.queue, key)
	}
	r.pending[key] = saveJob{identity: id, record: rec}
	select {
	case <-r.idle:
		// idle -> busy; a Flush already waiting keeps its channel.
		r.idle = make(chan struct{})
	default:
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every save submitted before the call has finished.
func (r *Replicator) Flush(ctx context.Context) error {
	for {
		r.mu.Lock()
		idle := r.idle
		busy := r.inflight || len(r.queue) > 0
		r.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains queued saves and stops the worker.
func (r *Replicator) Close() error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
	return nil
}

func (r *Replicator) run() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

func (r *Replicator) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.inflight = false
			select {
			case <-r.idle:
			default:
				close(r.idle)
			}
			r.mu.Unlock()
			return
		}
		key := r.queue[0]
		r.queue = r.queue[1:]
		job := r.pending[key]
		delete(r.pending, key)
		r.inflight = true
		r.mu.Unlock()

		r.save(job)
	}
}

func (r *Replicator) save(job saveJob) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	t0 := time.Now()
	err := r.store.Save(ctx, job.identity, job.record)
	if r.metrics != nil {
		r.metrics.SaveLatency.Observe(time.Since(t0).Seconds())
		r.metrics.Saves.Inc()
	}
	if err != nil {
		// Not retried: the next mutation submits a fresh snapshot.
		if r.metrics != nil {
			r.metrics.SaveFailures.Inc()
		}
		r.log.Warn("cart save failed",
			zap.String("key", SessionKey(job.identity)),
			zap.Int("lines", len(job.record.Items)),
			zap.Error(err))
		return
	}
	r.log.Debug("cart saved",
		zap.String("key", SessionKey(job.identity)),
		zap.Int("total_quantity", job.record.TotalQuantity))
}
