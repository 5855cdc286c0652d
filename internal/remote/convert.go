package remote

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
)

// Field names of the feed documents.
const (
	fieldAuthorID    = "authorId"
	fieldAuthorName  = "authorDisplayName"
	fieldRole        = "role"
	fieldMessage     = "message"
	fieldImage       = "image"
	fieldFiles       = "files"
	fieldLinks       = "links"
	fieldCreatedAt   = "createdAt"
	fieldLikes       = "likes"
	fieldLikedBy     = "likedBy"
	fieldComments    = "comments"
	fieldAuthor      = "author"
	commentsSubcoll  = "comments"
)

// Snapshot is a decoded remote snapshot of one feed collection.
type Snapshot struct {
	// Epoch identifies the subscription that produced the snapshot.
	Epoch uint64

	// Seq is the backend commit sequence the snapshot is consistent with.
	Seq int64

	// Items are sorted newest first and carry their comments.
	Items []model.FeedItem
}

// itemFields builds the document written for a new post.
func itemFields(item model.FeedItem) map[string]any {
	fields := map[string]any{
		fieldAuthorID:   item.AuthorID,
		fieldAuthorName: item.AuthorDisplayName,
		fieldRole:       string(item.Role),
		fieldMessage:    item.Body,
		fieldCreatedAt:  docstore.ServerTimestamp,
		fieldLikes:      0,
		fieldLikedBy:    []string{},
		fieldComments:   0,
	}
	if len(item.Attachments.Images) > 0 {
		fields[fieldImage] = item.Attachments.Images[0]
	}
	if len(item.Attachments.Files) > 0 {
		fields[fieldFiles] = item.Attachments.Files
	}
	if len(item.Attachments.Links) > 0 {
		fields[fieldLinks] = item.Attachments.Links
	}
	return fields
}

func commentFields(c model.Comment) map[string]any {
	return map[string]any{
		fieldAuthor:    c.AuthorDisplayName,
		fieldAuthorID:  c.AuthorID,
		fieldRole:      string(c.Role),
		fieldMessage:   c.Body,
		fieldCreatedAt: docstore.ServerTimestamp,
	}
}

// decodeSnapshot splits a collection snapshot into items and their comments.
// Documents that cannot be decoded are logged and skipped.
func decodeSnapshot(collection string, snap docstore.Snapshot) Snapshot {
	out := Snapshot{Seq: snap.Seq}
	byID := make(map[string]int)
	var comments []model.Comment

	depth := strings.Count(collection, "/") + 1
	for _, doc := range snap.Docs {
		segs := strings.Split(doc.Path, "/")
		switch {
		case len(segs) == depth+1:
			item, err := DecodeItem(doc)
			if err != nil {
				slog.Warn("skipping feed item", "path", doc.Path, "error", err)
				continue
			}
			byID[item.ID] = len(out.Items)
			out.Items = append(out.Items, item)
		case len(segs) == depth+3 && segs[depth+1] == commentsSubcoll:
			c, err := DecodeComment(segs[depth], doc)
			if err != nil {
				slog.Warn("skipping comment", "path", doc.Path, "error", err)
				continue
			}
			comments = append(comments, c)
		}
	}

	for _, c := range comments {
		if i, ok := byID[c.ParentID]; ok {
			out.Items[i].Comments = append(out.Items[i].Comments, c)
		}
	}
	for i := range out.Items {
		model.SortComments(out.Items[i].Comments)
	}
	model.SortItems(out.Items)
	return out
}

// DecodeItem converts a feed document into a FeedItem.
func DecodeItem(doc docstore.Document) (model.FeedItem, error) {
	f := doc.Fields
	createdAt, err := model.ParseTimestamp(f[fieldCreatedAt])
	if err != nil {
		return model.FeedItem{}, err
	}
	item := model.FeedItem{
		ID:                doc.ID(),
		AuthorID:          str(f, fieldAuthorID),
		AuthorDisplayName: str(f, fieldAuthorName),
		Role:              model.Role(str(f, fieldRole)),
		Body:              str(f, fieldMessage),
		CreatedAt:         createdAt,
		LikeCount:         count(f, fieldLikes),
		LikedBy:           model.NormalizeLikedBy(strs(f, fieldLikedBy)),
		CommentCount:      count(f, fieldComments),
		State:             model.StateSynced,
	}
	if img := str(f, fieldImage); img != "" {
		item.Attachments.Images = []string{img}
	}
	item.Attachments.Files = strs(f, fieldFiles)
	item.Attachments.Links = strs(f, fieldLinks)
	if item.AuthorID == "" {
		return model.FeedItem{}, fmt.Errorf("missing %s", fieldAuthorID)
	}
	return item, nil
}

// DecodeComment converts a comment document under the item parentID.
func DecodeComment(parentID string, doc docstore.Document) (model.Comment, error) {
	f := doc.Fields
	createdAt, err := model.ParseTimestamp(f[fieldCreatedAt])
	if err != nil {
		return model.Comment{}, err
	}
	return model.Comment{
		ID:                doc.ID(),
		ParentID:          parentID,
		AuthorID:          str(f, fieldAuthorID),
		AuthorDisplayName: str(f, fieldAuthor),
		Role:              model.Role(str(f, fieldRole)),
		Body:              str(f, fieldMessage),
		CreatedAt:         createdAt,
		State:             model.StateSynced,
	}, nil
}

func str(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return s
}

func strs(f map[string]any, key string) []string {
	raw, _ := f[key].([]any)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// count reads a non-negative counter; malformed values read as 0.
func count(f map[string]any, key string) int {
	var n int64
	switch v := f[key].(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	}
	if n < 0 {
		return 0
	}
	return int(n)
}
