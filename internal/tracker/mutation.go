package tracker

import (
	"time"

	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
)

// Kind selects the mutation variant.
type Kind string

const (
	KindCreateItem Kind = "create_item"
	KindToggleLike Kind = "toggle_like"
	KindAddComment Kind = "add_comment"
	KindDeleteItem Kind = "delete_item"
)

// Status is the lifecycle state of a mutation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Mutation is one optimistic change. Which payload fields are set depends
// on Kind:
//
//	create_item  Item
//	toggle_like  ItemID, UserID, Like (the target state)
//	add_comment  ItemID, Comment
//	delete_item  ItemID
type Mutation struct {
	// ID is the correlation id assigned by Record.
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Item    model.FeedItem `json:"item,omitzero"`
	ItemID  string         `json:"item_id,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Like    bool           `json:"like,omitempty"`
	Comment model.Comment  `json:"comment,omitzero"`

	Status Status       `json:"status"`
	Reason *model.Error `json:"reason,omitempty"`
	Ack    remote.Ack   `json:"ack,omitzero"`

	// Seq is the record order within the tracker.
	Seq        int64     `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CreateItem returns a create mutation for item.
func CreateItem(item model.FeedItem) Mutation {
	return Mutation{Kind: KindCreateItem, Item: item.Clone()}
}

// ToggleLike returns a mutation that moves userID's like on itemID to like.
func ToggleLike(itemID, userID string, like bool) Mutation {
	return Mutation{Kind: KindToggleLike, ItemID: itemID, UserID: userID, Like: like}
}

// AddComment returns a mutation adding c under itemID.
func AddComment(itemID string, c model.Comment) Mutation {
	c.ParentID = itemID
	return Mutation{Kind: KindAddComment, ItemID: itemID, Comment: c}
}

// DeleteItem returns a mutation removing itemID.
func DeleteItem(itemID string) Mutation {
	return Mutation{Kind: KindDeleteItem, ItemID: itemID}
}

// Delta is +1 for a like and -1 for an unlike.
func (m Mutation) Delta() int {
	if m.Like {
		return 1
	}
	return -1
}

// Target returns the id of the item the mutation affects. For a create it
// is the local id of the new item.
func (m Mutation) Target() string {
	if m.Kind == KindCreateItem {
		return m.Item.ID
	}
	return m.ItemID
}

// Unsynced reports whether m is a failed comment kept for display.
func (m Mutation) Unsynced() bool {
	return m.Status == StatusFailed && retained(m)
}

// retained reports whether a failed mutation stays visible instead of
// rolling back. Only comments that failed for a transient reason do.
func retained(m Mutation) bool {
	return m.Kind == KindAddComment && m.Reason != nil && m.Reason.Kind == model.KindTransient
}

func (m Mutation) clone() Mutation {
	out := m
	out.Item = m.Item.Clone()
	if m.Reason != nil {
		r := *m.Reason
		out.Reason = &r
	}
	return out
}
