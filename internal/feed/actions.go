package feed

import (
	"context"
	"strings"
	"time"

	"github.com/cumba2321/classsync/internal/auth"
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/tracker"
)

// Post publishes a new item as the signed-in user. The item shows at once
// under a local id; Receipt.ItemID is that id.
//
// Only the body and attachments of item are used. Invalid input is rejected
// before anything is recorded.
func (c *Controller) Post(_ context.Context, item model.FeedItem) (Receipt, error) {
	id, err := auth.Require(c.auth)
	if err != nil {
		return Receipt{}, err
	}
	draft := model.FeedItem{
		AuthorID:          id.UserID,
		AuthorDisplayName: id.DisplayName,
		Role:              id.Role,
		Body:              item.Body,
		Attachments:       item.Attachments.Clone(),
	}
	if err := model.ValidatePost(&draft); err != nil {
		return Receipt{}, err
	}
	if err := c.adapter.CheckItem(draft); err != nil {
		return Receipt{}, err
	}
	return c.begin(tracker.CreateItem(draft)), nil
}

// Like adds the signed-in user's like to itemID.
func (c *Controller) Like(ctx context.Context, itemID string) (Receipt, error) {
	return c.SetLike(ctx, itemID, true)
}

// Unlike removes the signed-in user's like from itemID.
func (c *Controller) Unlike(ctx context.Context, itemID string) (Receipt, error) {
	return c.SetLike(ctx, itemID, false)
}

// ToggleLike flips the signed-in user's like on itemID.
func (c *Controller) ToggleLike(ctx context.Context, itemID string) (Receipt, error) {
	id, err := auth.Require(c.auth)
	if err != nil {
		return Receipt{}, err
	}
	liked, err := c.likeState(itemID, id.UserID)
	if err != nil {
		return Receipt{}, err
	}
	return c.SetLike(ctx, itemID, !liked)
}

// SetLike moves the signed-in user's like on itemID to like. When the feed
// already shows that state nothing is written, so the server counter is
// never moved twice for one user.
func (c *Controller) SetLike(_ context.Context, itemID string, like bool) (Receipt, error) {
	id, err := auth.Require(c.auth)
	if err != nil {
		return Receipt{}, err
	}
	liked, err := c.likeState(itemID, id.UserID)
	if err != nil {
		return Receipt{}, err
	}
	if liked == like {
		return resolved(itemID, Outcome{Ack: remote.Ack{ServerID: itemID}}), nil
	}
	return c.begin(tracker.ToggleLike(itemID, id.UserID, like)), nil
}

// likeState is the user's like on itemID as the feed will show it: the
// latest live like mutation, or else the published view.
func (c *Controller) likeState(itemID, userID string) (bool, error) {
	if err := c.checkSynced(itemID); err != nil {
		return false, err
	}
	item, ok := c.store.Get(itemID)
	if !ok {
		return false, model.NotFound("feed item %s", itemID)
	}
	liked := item.LikedByUser(userID)
	for _, m := range c.tracker.Snapshot() {
		if m.Kind == tracker.KindToggleLike && m.ItemID == itemID && m.UserID == userID && m.Status != tracker.StatusFailed {
			liked = m.Like
		}
	}
	return liked, nil
}

// Comment adds a comment under itemID. Receipt.ItemID is the local comment id.
func (c *Controller) Comment(_ context.Context, itemID, body string) (Receipt, error) {
	id, err := auth.Require(c.auth)
	if err != nil {
		return Receipt{}, err
	}
	if err := c.checkSynced(itemID); err != nil {
		return Receipt{}, err
	}
	comment := model.Comment{
		ParentID:          itemID,
		AuthorID:          id.UserID,
		AuthorDisplayName: id.DisplayName,
		Role:              id.Role,
		Body:              body,
	}
	if err := model.ValidateComment(&comment); err != nil {
		return Receipt{}, err
	}
	if err := c.adapter.CheckComment(comment); err != nil {
		return Receipt{}, err
	}
	if _, ok := c.store.Get(itemID); !ok {
		return Receipt{}, model.NotFound("feed item %s", itemID)
	}

	return c.begin(tracker.AddComment(itemID, comment)), nil
}

// RetryComment pushes an unsynced comment again under a new local id.
func (c *Controller) RetryComment(_ context.Context, commentID string) (Receipt, error) {
	m, err := c.unsynced(commentID)
	if err != nil {
		return Receipt{}, err
	}
	c.tracker.Discard(m.ID)

	comment := m.Comment
	comment.ID = ""
	comment.CreatedAt = time.Time{}
	return c.begin(tracker.AddComment(m.ItemID, comment)), nil
}

// DismissComment removes an unsynced comment from the feed.
func (c *Controller) DismissComment(commentID string) error {
	m, err := c.unsynced(commentID)
	if err != nil {
		return err
	}
	c.tracker.Discard(m.ID)
	return nil
}

func (c *Controller) unsynced(commentID string) (tracker.Mutation, error) {
	m, ok := c.tracker.Get(strings.TrimPrefix(commentID, model.LocalIDPrefix))
	if !ok || !m.Unsynced() {
		return tracker.Mutation{}, model.NotFound("unsynced comment %s", commentID)
	}
	return m, nil
}

// Delete removes itemID. Only its author or an instructor may delete it.
//
// Deleting a post that is still being published cancels it instead; if the
// publish turns out to have succeeded, the server copy is deleted too.
func (c *Controller) Delete(_ context.Context, itemID string) (Receipt, error) {
	id, err := auth.Require(c.auth)
	if err != nil {
		return Receipt{}, err
	}

	if model.IsLocalID(itemID) {
		create, ok := c.localCreate(itemID)
		if !ok {
			return Receipt{}, model.NotFound("feed item %s", itemID)
		}
		if create.Status == tracker.StatusPending {
			c.mu.Lock()
			c.abandoned[create.ID] = true
			c.mu.Unlock()
			c.tracker.Discard(create.ID)
			return resolved(itemID, Outcome{}), nil
		}
		itemID = create.Ack.ServerID
	}

	item, ok := c.store.Get(itemID)
	if !ok {
		return Receipt{}, model.NotFound("feed item %s", itemID)
	}
	if item.AuthorID != id.UserID && id.Role != model.RoleInstructor {
		return Receipt{}, model.PermissionDenied("only the author or an instructor may delete %s", itemID)
	}
	return c.begin(tracker.DeleteItem(itemID)), nil
}

func (c *Controller) localCreate(localID string) (tracker.Mutation, bool) {
	for _, m := range c.tracker.Snapshot() {
		if m.Kind == tracker.KindCreateItem && m.Item.ID == localID {
			return m, true
		}
	}
	return tracker.Mutation{}, false
}

func (c *Controller) checkSynced(itemID string) error {
	if model.IsLocalID(itemID) {
		return model.Validation("item %s is still being posted", itemID)
	}
	return nil
}
