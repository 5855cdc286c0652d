package remote

import (
	"context"
	"sync/atomic"

	"github.com/cumba2321/classsync/internal/docstore"
)

type epochCounter struct {
	n atomic.Uint64
}

func (c *epochCounter) next() uint64 {
	return c.n.Add(1)
}

// Subscription is a live feed subscription. Each subscription has its own
// epoch. After Unsubscribe, Live reports false for that epoch, so a receiver
// that checks Live when it applies a snapshot discards any callback that was
// already in flight.
type Subscription struct {
	epoch   uint64
	watcher docstore.Watcher
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// Epoch returns the epoch stamped on this subscription's snapshots.
func (s *Subscription) Epoch() uint64 {
	return s.epoch
}

// Live reports whether epoch belongs to this subscription and it has not
// been unsubscribed.
func (s *Subscription) Live(epoch uint64) bool {
	return s != nil && epoch == s.epoch && !s.stopped.Load()
}

// Done is closed when delivery has ended, either by Unsubscribe or because
// the underlying watch closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe ends the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.stopped.Swap(true) {
		return
	}
	s.cancel()
	s.watcher.Stop()
}

// Subscribe watches collection and calls onSnapshot with each decoded
// snapshot, in the backend's commit order. Callbacks run on one goroutine.
func (a *Adapter) Subscribe(ctx context.Context, collection string, onSnapshot func(Snapshot)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := a.backend.Watch(ctx, collection)
	if err != nil {
		cancel()
		return nil, classify("subscribe "+collection, err)
	}

	sub := &Subscription{
		epoch:   a.epochs.next(),
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.logger.Debug("subscribed", "collection", collection, "epoch", sub.epoch)

	go func() {
		defer close(sub.done)
		for snap := range w.Updates() {
			decoded := decodeSnapshot(collection, snap)
			decoded.Epoch = sub.epoch

			if sub.stopped.Load() {
				continue
			}
			onSnapshot(decoded)
		}
		a.logger.Debug("subscription ended", "collection", collection, "epoch", sub.epoch)
	}()
	return sub, nil
}
