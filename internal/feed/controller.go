// Package feed runs the class-wall data flow. A user action becomes a
// tracked mutation, the mutation is pushed through the remote adapter, and
// every push result or remote snapshot re-merges the feed into the store.
//
// Controller.Run is the single writer of the feed store. Subscription
// callbacks and push goroutines only enqueue events for it.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cumba2321/classsync/internal/auth"
	"github.com/cumba2321/classsync/internal/feedstore"
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/reconcile"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/tracker"
)

// DefaultExpiryInterval is how often pending mutations are checked against
// the push timeout.
const DefaultExpiryInterval = time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTracker replaces the mutation tracker, e.g. to fix ids and clock in tests.
func WithTracker(t *tracker.Tracker) Option {
	return func(c *Controller) { c.tracker = t }
}

// WithEngine replaces the reconcile engine.
func WithEngine(e *reconcile.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithPushTimeout bounds how long a mutation may wait for its push result,
// retries included, before it fails as transient.
func WithPushTimeout(d time.Duration) Option {
	return func(c *Controller) { c.pushTimeout = d }
}

// WithExpiryInterval sets how often the push timeout is checked.
func WithExpiryInterval(d time.Duration) Option {
	return func(c *Controller) { c.expiryInterval = d }
}

// WithRetry sets the retry policy for transient push failures.
func WithRetry(p RetryPolicy) Option {
	return func(c *Controller) { c.retry = p }
}

// Warning reports a mutation whose push failed. The change has been rolled
// back unless Unsynced is set.
type Warning struct {
	MutationID string
	Kind       tracker.Kind
	Target     string
	Err        *model.Error

	// Unsynced is set for a comment that stays visible as not synced.
	Unsynced bool
}

// Controller owns the feed of one collection for one signed-in session.
type Controller struct {
	adapter *remote.Adapter
	auth    auth.Context
	tracker *tracker.Tracker
	engine  *reconcile.Engine
	store   *feedstore.Store
	writer  *feedstore.Writer
	queue   *eventQueue
	logger  *slog.Logger

	pushTimeout    time.Duration
	expiryInterval time.Duration
	retry          RetryPolicy

	pushCtx    context.Context
	stopPushes context.CancelFunc

	warnings  chan Warning
	ready     chan struct{}
	readyOnce sync.Once

	mu  sync.Mutex
	sub *remote.Subscription
	// waiters deliver push outcomes to Receipts, by mutation id.
	waiters map[string]chan Outcome
	// abandoned holds creates deleted while their push was in flight.
	abandoned map[string]bool
	// tails is closed when the last push queued for a target has finished.
	// Pushes to one target run in record order.
	tails map[string]chan struct{}

	// snapshot is the latest live remote snapshot. Owned by Run.
	snapshot remote.Snapshot
}

// NewController creates a controller over adapter acting as the identity
// in authCtx. Call Subscribe and Run to start it.
func NewController(adapter *remote.Adapter, authCtx auth.Context, opts ...Option) *Controller {
	store, writer := feedstore.New()
	c := &Controller{
		adapter:        adapter,
		auth:           authCtx,
		engine:         reconcile.New(),
		store:          store,
		writer:         writer,
		queue:          newEventQueue(),
		logger:         slog.Default(),
		pushTimeout:    tracker.DefaultPushTimeout,
		expiryInterval: DefaultExpiryInterval,
		retry:          DefaultRetry,
		warnings:       make(chan Warning, 32),
		ready:          make(chan struct{}),
		waiters:        make(map[string]chan Outcome),
		abandoned:      make(map[string]bool),
		tails:          make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracker == nil {
		c.tracker = tracker.New(tracker.WithLogger(c.logger))
	}
	c.pushCtx, c.stopPushes = context.WithCancel(context.Background())
	return c
}

// Store returns the read side of the merged feed.
func (c *Controller) Store() *feedstore.Store {
	return c.store
}

// Tracker returns the mutation tracker.
func (c *Controller) Tracker() *tracker.Tracker {
	return c.tracker
}

// Warnings receives failed pushes. Warnings are dropped, and logged, when
// nobody reads them.
func (c *Controller) Warnings() <-chan Warning {
	return c.warnings
}

// Ready is closed once the first live snapshot has been merged.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe starts watching the feed collection, replacing any previous
// subscription.
func (c *Controller) Subscribe(ctx context.Context) error {
	sub, err := c.adapter.Subscribe(ctx, c.adapter.Collection(), func(snap remote.Snapshot) {
		c.queue.Enqueue(event{typ: eventSnapshot, snapshot: snap})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.sub
	c.sub = sub
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	return nil
}

// Unsubscribe stops the subscription. Snapshots already queued from it are
// discarded when Run reaches them.
func (c *Controller) Unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Run processes events until ctx is cancelled or Stop is called. It must be
// called from exactly one goroutine.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("feed controller starting", "collection", c.adapter.Collection())

	ticker := time.NewTicker(c.expiryInterval)
	defer ticker.Stop()

	for {
		if ev, ok := c.queue.TryDequeue(); ok {
			c.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			c.queue.Close()
			c.logger.Info("feed controller stopping", "reason", ctx.Err())
			return ctx.Err()

		case _, ok := <-c.queue.Wait():
			if !ok && c.queue.Len() == 0 {
				c.logger.Info("feed controller stopped")
				return nil
			}

		case <-c.tracker.Changed():
			c.refresh()

		case <-ticker.C:
			c.expire()
		}
	}
}

// Stop unsubscribes, cancels in-flight pushes and makes Run return once the
// queued events are processed.
func (c *Controller) Stop() {
	c.Unsubscribe()
	c.stopPushes()
	c.queue.Close()
}

func (c *Controller) process(ev event) {
	switch ev.typ {
	case eventSnapshot:
		c.applySnapshot(ev.snapshot)
	case eventPushResult:
		c.applyPushResult(ev)
	default:
		c.logger.Error("unknown event type", "type", ev.typ)
	}
}

func (c *Controller) applySnapshot(snap remote.Snapshot) {
	c.mu.Lock()
	live := c.sub.Live(snap.Epoch)
	c.mu.Unlock()

	if !live {
		snapshotsReceived.WithLabelValues("stale").Inc()
		c.logger.Debug("discarding snapshot from closed subscription", "epoch", snap.Epoch, "seq", snap.Seq)
		return
	}
	snapshotsReceived.WithLabelValues("applied").Inc()

	c.snapshot = snap
	c.refresh()
	c.readyOnce.Do(func() { close(c.ready) })
}

// refresh re-merges and publishes. Confirmed mutations the snapshot now
// shows are settled, which notifies the tracker's change channel once more;
// the next merge is identical and is not republished.
func (c *Controller) refresh() {
	res := c.engine.Reconcile(c.snapshot, c.tracker.Snapshot())
	if len(res.Settled) > 0 {
		n := c.tracker.Settle(res.Settled...)
		c.logger.Debug("mutations settled", "count", n, "seq", c.snapshot.Seq)
	}
	v := c.writer.Publish(res.Items)
	viewVersion.Set(float64(v))
}

func (c *Controller) applyPushResult(ev event) {
	outcome := Outcome{Ack: ev.ack}
	if ev.err != nil {
		outcome = Outcome{Err: model.AsError(ev.err)}
	}
	defer c.finish(ev.mutationID, outcome)

	if c.takeAbandoned(ev.mutationID) {
		if outcome.Err == nil && ev.ack.ServerID != "" {
			c.logger.Info("removing item posted after it was deleted locally",
				"id", ev.mutationID, "server_id", ev.ack.ServerID)
			c.begin(tracker.DeleteItem(ev.ack.ServerID))
		}
		return
	}

	if outcome.Err == nil {
		if !c.tracker.Confirm(ev.mutationID, ev.ack) {
			c.logger.Debug("late push result ignored", "id", ev.mutationID, "server_id", ev.ack.ServerID)
		}
		return
	}

	m, ok := c.tracker.Get(ev.mutationID)
	if !ok || !c.tracker.Fail(ev.mutationID, outcome.Err) {
		c.logger.Debug("late push failure ignored", "id", ev.mutationID, "error", outcome.Err)
		return
	}
	c.warn(m, outcome.Err)
}

func (c *Controller) expire() {
	pending := c.tracker.Pending()
	expired := c.tracker.Expire(c.pushTimeout)
	if len(expired) == 0 {
		return
	}

	byID := make(map[string]tracker.Mutation, len(pending))
	for _, m := range pending {
		byID[m.ID] = m
	}
	reason := model.Transient("no push result after %s", c.pushTimeout)
	for _, id := range expired {
		c.warn(byID[id], reason)
		c.finish(id, Outcome{Err: reason})
	}
}

func (c *Controller) warn(m tracker.Mutation, reason *model.Error) {
	w := Warning{MutationID: m.ID, Kind: m.Kind, Target: m.Target(), Err: reason}
	if after, ok := c.tracker.Get(m.ID); ok && after.Unsynced() {
		w.Unsynced = true
	}
	select {
	case c.warnings <- w:
	default:
		c.logger.Warn("warning dropped, nobody is reading", "id", m.ID, "kind", m.Kind, "error", reason)
	}
}

func (c *Controller) finish(id string, o Outcome) {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()

	if ok {
		ch <- o
	}
}

func (c *Controller) takeAbandoned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.abandoned[id] {
		return false
	}
	delete(c.abandoned, id)
	return true
}
