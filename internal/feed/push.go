package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/tracker"
)

// RetryPolicy bounds the retries of a transient push failure. Other
// failures are never retried.
type RetryPolicy struct {
	MaxTries        uint          `yaml:"max_tries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultRetry tries a push three times with exponential waits from 200ms.
var DefaultRetry = RetryPolicy{
	MaxTries:        3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Outcome is the push result of one mutation.
type Outcome struct {
	Ack remote.Ack
	Err *model.Error
}

// Receipt is returned by every feed action.
type Receipt struct {
	// MutationID is the correlation id, empty when the action needed no write.
	MutationID string
	// ItemID is the id the view shows for the affected entry: the local id
	// of a new post or comment, the item id otherwise.
	ItemID string

	done <-chan Outcome
}

func resolved(itemID string, o Outcome) Receipt {
	ch := make(chan Outcome, 1)
	ch <- o
	return Receipt{ItemID: itemID, done: ch}
}

// Done delivers the outcome once.
func (r Receipt) Done() <-chan Outcome {
	return r.done
}

// Wait blocks until the push result is known.
func (r Receipt) Wait(ctx context.Context) (remote.Ack, error) {
	select {
	case <-ctx.Done():
		return remote.Ack{}, ctx.Err()
	case o := <-r.done:
		if o.Err != nil {
			return o.Ack, o.Err
		}
		return o.Ack, nil
	}
}

// begin records m and starts its push. The push waits for the previous
// push to the same target, so the server applies them in record order.
func (c *Controller) begin(m tracker.Mutation) Receipt {
	ch := make(chan Outcome, 1)
	id := c.tracker.Record(m)

	itemID := m.ItemID
	if m.Kind == tracker.KindCreateItem || m.Kind == tracker.KindAddComment {
		itemID = model.LocalID(id)
	}
	target := m.ItemID
	if m.Kind == tracker.KindCreateItem {
		target = itemID
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.waiters[id] = ch
	prev := c.tails[target]
	c.tails[target] = done
	c.mu.Unlock()

	go c.push(id, target, prev, done)

	return Receipt{MutationID: id, ItemID: itemID, done: ch}
}

// push sends one mutation, retrying transient errors, and enqueues the result.
func (c *Controller) push(id, target string, prev <-chan struct{}, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.tails[target] == done {
			delete(c.tails, target)
		}
		c.mu.Unlock()
		close(done)
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-c.pushCtx.Done():
			c.deliver(id, remote.Ack{}, model.WrapError(model.KindTransient, "push stopped", c.pushCtx.Err()))
			return
		}
	}

	m, ok := c.tracker.Get(id)
	if !ok {
		c.finish(id, Outcome{Err: model.NotFound("mutation %s is no longer tracked", id)})
		return
	}
	ctx, cancel := context.WithTimeout(c.pushCtx, c.pushTimeout)
	defer cancel()

	ack, err := backoff.Retry(ctx, func() (remote.Ack, error) {
		pushAttempts.WithLabelValues(string(m.Kind)).Inc()
		ack, err := c.send(ctx, m)
		if err != nil && !model.IsKind(err, model.KindTransient) {
			return ack, backoff.Permanent(err)
		}
		return ack, err
	},
		backoff.WithBackOff(c.retry.backOff()),
		backoff.WithMaxTries(c.retry.MaxTries),
		backoff.WithMaxElapsedTime(c.pushTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("push failed, retrying", "id", id, "kind", m.Kind, "in", next, "error", err)
		}),
	)
	c.deliver(id, ack, err)
}

// deliver hands a push result to Run. Once the controller has stopped, the
// receipt gets the outcome directly.
func (c *Controller) deliver(id string, ack remote.Ack, err error) {
	if c.queue.Enqueue(event{typ: eventPushResult, mutationID: id, ack: ack, err: err}) {
		return
	}
	o := Outcome{Ack: ack}
	if err != nil {
		o = Outcome{Err: model.AsError(err)}
	}
	c.finish(id, o)
}

func (c *Controller) send(ctx context.Context, m tracker.Mutation) (remote.Ack, error) {
	switch m.Kind {
	case tracker.KindCreateItem:
		return c.adapter.CreateItem(ctx, m.Item)
	case tracker.KindToggleLike:
		return c.adapter.ToggleLike(ctx, m.ItemID, m.UserID, m.Delta())
	case tracker.KindAddComment:
		return c.adapter.AddComment(ctx, m.ItemID, m.Comment)
	case tracker.KindDeleteItem:
		return c.adapter.DeleteItem(ctx, m.ItemID)
	}
	return remote.Ack{}, model.Validation("unknown mutation kind %q", m.Kind)
}
