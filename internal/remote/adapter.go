// Package remote sends feed and attendance mutations to a document backend
// and streams decoded snapshots back. It holds no merge logic.
//
// Every mutating call returns an Ack on success or a *model.Error whose Kind
// is permission_denied, not_found, transient or validation.
package remote

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/schema"
)

// DefaultCollection is the feed collection used when none is configured.
const DefaultCollection = "feedItems"

// Ack confirms a write.
type Ack struct {
	// ServerID is the id of the document the write produced or touched.
	ServerID string `json:"server_id"`

	// Seq is the backend commit sequence of the write. A snapshot with
	// Seq >= this value includes the write. Zero when the backend cannot
	// report it.
	Seq int64 `json:"seq"`
}

// Adapter is the remote sync boundary over a docstore backend.
type Adapter struct {
	backend    docstore.Backend
	validator  *schema.Validator
	collection string
	logger     *slog.Logger
	epochs     epochCounter
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCollection sets the feed collection path.
func WithCollection(path string) Option {
	return func(a *Adapter) { a.collection = path }
}

// WithValidator replaces the default schema validator.
func WithValidator(v *schema.Validator) Option {
	return func(a *Adapter) { a.validator = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an adapter over backend.
func New(backend docstore.Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backend:    backend,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.validator == nil {
		a.validator = schema.Default()
	}
	return a
}

// Collection returns the feed collection path.
func (a *Adapter) Collection() string {
	return a.collection
}

func (a *Adapter) itemPath(itemID string) string {
	return docstore.Join(a.collection, itemID)
}

func (a *Adapter) commentsPath(itemID string) string {
	return docstore.Join(a.collection, itemID, commentsSubcoll)
}

// CheckItem validates item against the feed document schema without
// writing anything.
func (a *Adapter) CheckItem(item model.FeedItem) error {
	return a.validator.Validate(schema.FeedItem, itemFields(item))
}

// CheckComment validates c against the comment document schema.
func (a *Adapter) CheckComment(c model.Comment) error {
	return a.validator.Validate(schema.Comment, commentFields(c))
}

// CreateItem writes a new feed document. The server assigns the id and
// createdAt.
func (a *Adapter) CreateItem(ctx context.Context, item model.FeedItem) (Ack, error) {
	fields := itemFields(item)
	if err := a.validator.Validate(schema.FeedItem, fields); err != nil {
		return Ack{}, err
	}
	id, seq, err := a.backend.Create(ctx, a.collection, fields)
	if err != nil {
		return Ack{}, classify("create item", err)
	}
	a.logger.Debug("item created", "id", id, "seq", seq, "author", item.AuthorID)
	return Ack{ServerID: id, Seq: seq}, nil
}

// ToggleLike applies delta (+1 like, -1 unlike) to the item's like counter
// and likedBy set in one document update.
func (a *Adapter) ToggleLike(ctx context.Context, itemID, userID string, delta int) (Ack, error) {
	if userID == "" {
		return Ack{}, model.Validation("like requires a user")
	}
	var ops []docstore.FieldOp
	switch delta {
	case 1:
		ops = []docstore.FieldOp{
			docstore.Increment(fieldLikes, 1),
			docstore.ArrayUnion(fieldLikedBy, userID),
		}
	case -1:
		ops = []docstore.FieldOp{
			docstore.Increment(fieldLikes, -1),
			docstore.ArrayRemove(fieldLikedBy, userID),
		}
	default:
		return Ack{}, model.Validation("like delta must be +1 or -1, got %d", delta)
	}
	seq, err := a.backend.Update(ctx, a.itemPath(itemID), ops...)
	if err != nil {
		return Ack{}, classify("toggle like", err)
	}
	return Ack{ServerID: itemID, Seq: seq}, nil
}

// AddComment bumps the item's comment counter and writes the comment
// document. The counter goes first so a missing item fails as not-found
// before any comment is stored.
func (a *Adapter) AddComment(ctx context.Context, itemID string, c model.Comment) (Ack, error) {
	fields := commentFields(c)
	if err := a.validator.Validate(schema.Comment, fields); err != nil {
		return Ack{}, err
	}
	if _, err := a.backend.Update(ctx, a.itemPath(itemID), docstore.Increment(fieldComments, 1)); err != nil {
		return Ack{}, classify("add comment", err)
	}
	id, seq, err := a.backend.Create(ctx, a.commentsPath(itemID), fields)
	if err != nil {
		return Ack{}, classify("add comment", err)
	}
	return Ack{ServerID: id, Seq: seq}, nil
}

// DeleteItem removes the item and its comments.
func (a *Adapter) DeleteItem(ctx context.Context, itemID string) (Ack, error) {
	if _, err := a.backend.Get(ctx, a.itemPath(itemID)); err != nil {
		return Ack{}, classify("delete item", err)
	}
	comments, err := a.backend.List(ctx, a.commentsPath(itemID))
	if err != nil {
		return Ack{}, classify("delete item", err)
	}
	for _, c := range comments {
		if _, err := a.backend.Delete(ctx, c.Path); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return Ack{}, classify("delete comment", err)
		}
	}
	seq, err := a.backend.Delete(ctx, a.itemPath(itemID))
	if err != nil {
		return Ack{}, classify("delete item", err)
	}
	return Ack{ServerID: itemID, Seq: seq}, nil
}

// GetDocument reads one document.
func (a *Adapter) GetDocument(ctx context.Context, path string) (docstore.Document, error) {
	doc, err := a.backend.Get(ctx, path)
	if err != nil {
		return docstore.Document{}, classify("get "+path, err)
	}
	return doc, nil
}

// ListDocuments reads the documents directly inside collection.
func (a *Adapter) ListDocuments(ctx context.Context, collection string) ([]docstore.Document, error) {
	docs, err := a.backend.List(ctx, collection)
	if err != nil {
		return nil, classify("list "+collection, err)
	}
	return docs, nil
}

// PutDocument validates fields as shape and writes them to path.
func (a *Adapter) PutDocument(ctx context.Context, shape schema.Shape, path string, fields map[string]any) (Ack, error) {
	if err := a.validator.Validate(shape, fields); err != nil {
		return Ack{}, err
	}
	seq, err := a.backend.Set(ctx, path, fields)
	if err != nil {
		return Ack{}, classify("write "+path, err)
	}
	return Ack{ServerID: path, Seq: seq}, nil
}

// MergeFields sets individual fields of the document at path, creating it
// when missing. Fields not named by ops are left untouched.
func (a *Adapter) MergeFields(ctx context.Context, shape schema.Shape, path string, ops ...docstore.FieldOp) (Ack, error) {
	if err := a.validator.ValidatePartial(shape, schema.Fields(ops)); err != nil {
		return Ack{}, err
	}
	seq, err := a.backend.Upsert(ctx, path, ops...)
	if err != nil {
		return Ack{}, classify("merge "+path, err)
	}
	return Ack{ServerID: path, Seq: seq}, nil
}

// DeleteDocument removes the document at path.
func (a *Adapter) DeleteDocument(ctx context.Context, path string) (Ack, error) {
	seq, err := a.backend.Delete(ctx, path)
	if err != nil {
		return Ack{}, classify("delete "+path, err)
	}
	return Ack{ServerID: path, Seq: seq}, nil
}
