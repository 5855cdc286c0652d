package model

import (
	"slices"
	"strings"
	"time"
)

// Role is the classroom role of an author or actor.
type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

// SyncState tells the UI whether an entry is backed by the server.
type SyncState string

const (
	// StateSynced entries come from the remote snapshot.
	StateSynced SyncState = "synced"
	// StatePending entries (or fields) reflect a not-yet-echoed local mutation.
	StatePending SyncState = "pending"
	// StateUnsynced entries are shown although their push failed.
	StateUnsynced SyncState = "unsynced"
)

// LocalIDPrefix marks ids assigned on this client before confirmation.
const LocalIDPrefix = "local:"

// LocalID returns the local id for a correlation id.
func LocalID(correlationID string) string {
	return LocalIDPrefix + correlationID
}

// IsLocalID reports whether id was assigned locally.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Attachments are opaque references produced by the media picker.
type Attachments struct {
	Images []string `json:"images,omitempty" yaml:"images,omitempty"`
	Files  []string `json:"files,omitempty" yaml:"files,omitempty"`
	Links  []string `json:"links,omitempty" yaml:"links,omitempty"`
}

// Clone returns a deep copy.
func (a Attachments) Clone() Attachments {
	return Attachments{
		Images: slices.Clone(a.Images),
		Files:  slices.Clone(a.Files),
		Links:  slices.Clone(a.Links),
	}
}

// FeedItem is a class-wall post with its social counters.
type FeedItem struct {
	ID                string      `json:"id"`
	AuthorID          string      `json:"author_id"`
	AuthorDisplayName string      `json:"author_display_name"`
	Role              Role        `json:"role"`
	Body              string      `json:"body"`
	Attachments       Attachments `json:"attachments"`
	CreatedAt         time.Time   `json:"created_at"`

	// LikeCount is the server's counter, plus the delta of local pending toggles.
	LikeCount int `json:"like_count"`

	// LikedBy is kept sorted so set operations are order-independent.
	LikedBy []string `json:"liked_by"`

	CommentCount int       `json:"comment_count"`
	Comments     []Comment `json:"comments,omitempty"`

	State SyncState `json:"state"`
}

// Clone returns a deep copy of the item.
func (f FeedItem) Clone() FeedItem {
	out := f
	out.Attachments = f.Attachments.Clone()
	out.LikedBy = slices.Clone(f.LikedBy)
	out.Comments = slices.Clone(f.Comments)
	return out
}

// LikedByUser reports whether userID is in LikedBy.
func (f FeedItem) LikedByUser(userID string) bool {
	_, found := slices.BinarySearch(f.LikedBy, userID)
	return found
}

// Comment is a reply under a FeedItem.
type Comment struct {
	ID                string    `json:"id"`
	ParentID          string    `json:"parent_id"`
	AuthorID          string    `json:"author_id"`
	AuthorDisplayName string    `json:"author_display_name"`
	Role              Role      `json:"role"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
	State             SyncState `json:"state"`
}

// Before reports whether an entry with (createdAt a, id ida) sorts before
// (createdAt b, id idb): newest first, ties broken by id ascending.
func Before(a time.Time, ida string, b time.Time, idb string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return ida < idb
}

// SortItems orders items newest first, ties by id ascending.
func SortItems(items []FeedItem) {
	slices.SortStableFunc(items, func(x, y FeedItem) int {
		return compareEntries(x.CreatedAt, x.ID, y.CreatedAt, y.ID)
	})
}

// SortComments orders comments newest first, ties by id ascending.
func SortComments(comments []Comment) {
	slices.SortStableFunc(comments, func(x, y Comment) int {
		return compareEntries(x.CreatedAt, x.ID, y.CreatedAt, y.ID)
	})
}

func compareEntries(a time.Time, ida string, b time.Time, idb string) int {
	switch {
	case Before(a, ida, b, idb):
		return -1
	case Before(b, idb, a, ida):
		return 1
	default:
		return 0
	}
}

// NormalizeLikedBy returns a sorted, duplicate-free copy of ids.
func NormalizeLikedBy(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}
