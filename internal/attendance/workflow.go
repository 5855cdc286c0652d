// Package attendance runs the attendance request and approval workflow.
//
// For one (class, day, student) the state moves none → requested →
// approved(status) or rejected. Students request; only instructors approve,
// reject or mark directly.
//
// The system of record is the aggregate document {classId}_{dateKey}, a map
// from student id to status. Approving sets one key of that map with a
// field update, so entries written concurrently for other students are never
// rewritten.
//
// Requests are stored under the same id as the per-student record,
// {classId}_{dateKey}_{studentId}. Approval finishes by overwriting the
// request with the record, which makes a retried or interrupted approval
// converge instead of leaving an orphaned request.
package attendance

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/cumba2321/classsync/internal/auth"
	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
	"github.com/cumba2321/classsync/internal/schema"
)

// DefaultCollection holds aggregates, requests and records.
const DefaultCollection = "attendance"

// Option configures a Workflow.
type Option func(*Workflow)

// WithCollection sets the attendance collection path.
func WithCollection(path string) Option {
	return func(w *Workflow) { w.collection = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// Workflow performs attendance actions as the identity in its auth context.
type Workflow struct {
	adapter    *remote.Adapter
	auth       auth.Context
	collection string
	logger     *slog.Logger
}

// New creates a workflow over adapter.
func New(adapter *remote.Adapter, authCtx auth.Context, opts ...Option) *Workflow {
	w := &Workflow{
		adapter:    adapter,
		auth:       authCtx,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) path(id string) string {
	return docstore.Join(w.collection, id)
}

// Request asks for attendance for the signed-in student. Requesting again
// returns the existing request.
func (w *Workflow) Request(ctx context.Context, classID, date string) (Request, error) {
	who, err := auth.Require(w.auth)
	if err != nil {
		return Request{}, err
	}
	if who.Role != model.RoleStudent {
		return Request{}, model.PermissionDenied("only students request attendance")
	}
	if date, err = checkKeys(classID, date, who.UserID); err != nil {
		return Request{}, err
	}

	id := model.RecordID(classID, date, who.UserID)
	doc, err := w.adapter.GetDocument(ctx, w.path(id))
	switch {
	case err == nil && isRequest(doc):
		return decodeRequest(doc)
	case err == nil:
		return Request{}, model.Validation("attendance for %s on %s is already recorded as %s",
			classID, date, str(doc.Fields, fieldStatus))
	case !model.IsKind(err, model.KindNotFound):
		return Request{}, err
	}

	req := Request{ID: id, ClassID: classID, StudentID: who.UserID, StudentName: who.DisplayName, Date: date}
	if _, err := w.adapter.PutDocument(ctx, schema.AttendanceRequest, w.path(id), requestFields(req)); err != nil {
		return Request{}, err
	}
	w.logger.Info("attendance requested", "class", classID, "date", date, "student", who.UserID)

	doc, err = w.adapter.GetDocument(ctx, w.path(id))
	if err != nil {
		return Request{}, err
	}
	return decodeRequest(doc)
}

// Approve records the request's student as status and resolves the request.
// Approving an already approved request with the same status returns the
// existing record.
func (w *Workflow) Approve(ctx context.Context, requestID string, status model.AttendanceStatus) (Record, error) {
	if _, err := auth.RequireInstructor(w.auth); err != nil {
		return Record{}, err
	}
	if !status.Approvable() {
		return Record{}, model.Validation("invalid attendance status %q: must be present, late or absent", status)
	}

	doc, err := w.adapter.GetDocument(ctx, w.path(requestID))
	if err != nil {
		return Record{}, err
	}
	if !isRequest(doc) {
		if rec, err := decodeRecord(doc); err == nil && rec.Status == status {
			return rec, nil
		}
		return Record{}, model.Validation("%s is not a pending request", requestID)
	}
	req, err := decodeRequest(doc)
	if err != nil {
		return Record{}, model.WrapError(model.KindValidation, "malformed request "+requestID, err)
	}
	if _, err := checkKeys(req.ClassID, req.Date, req.StudentID); err != nil {
		return Record{}, err
	}
	return w.decide(ctx, req.ClassID, req.Date, req.StudentID, status, requestID)
}

// Reject removes a pending request without recording attendance.
func (w *Workflow) Reject(ctx context.Context, requestID string) error {
	if _, err := auth.RequireInstructor(w.auth); err != nil {
		return err
	}
	doc, err := w.adapter.GetDocument(ctx, w.path(requestID))
	if err != nil {
		return err
	}
	if !isRequest(doc) {
		return model.Validation("%s is not a pending request", requestID)
	}
	if _, err := w.adapter.DeleteDocument(ctx, doc.Path); err != nil {
		return err
	}
	w.logger.Info("attendance request rejected", "request", requestID)
	return nil
}

// Mark records attendance for a student without a request. A pending
// request of that student for the day is resolved by it.
func (w *Workflow) Mark(ctx context.Context, classID, date, studentID string, status model.AttendanceStatus) (Record, error) {
	if _, err := auth.RequireInstructor(w.auth); err != nil {
		return Record{}, err
	}
	if !status.Approvable() {
		return Record{}, model.Validation("invalid attendance status %q: must be present, late or absent", status)
	}
	date, err := checkKeys(classID, date, studentID)
	if err != nil {
		return Record{}, err
	}
	return w.decide(ctx, classID, date, studentID, status, "")
}

// decide writes the aggregate entry, then the per-student record, then
// removes a request stored under a different id. The steps are separate
// writes; each is safe to repeat.
func (w *Workflow) decide(ctx context.Context, classID, date, studentID string, status model.AttendanceStatus, requestID string) (Record, error) {
	aggPath := w.path(model.AggregateID(classID, date))
	if _, err := w.adapter.MergeFields(ctx, schema.AttendanceAggregate, aggPath,
		aggregateOps(classID, date, studentID, status)...); err != nil {
		return Record{}, err
	}

	recordID := model.RecordID(classID, date, studentID)
	rec := Record{ClassID: classID, StudentID: studentID, Date: date, Status: status}
	if _, err := w.adapter.PutDocument(ctx, schema.AttendanceRecord, w.path(recordID), recordFields(rec)); err != nil {
		return Record{}, err
	}

	if requestID != "" && requestID != recordID {
		if _, err := w.adapter.DeleteDocument(ctx, w.path(requestID)); err != nil && !model.IsKind(err, model.KindNotFound) {
			return Record{}, err
		}
	}
	w.logger.Info("attendance recorded", "class", classID, "date", date, "student", studentID, "status", status)

	doc, err := w.adapter.GetDocument(ctx, w.path(recordID))
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(doc)
}

// Pending lists the open requests for a class, oldest first. An empty date
// lists every day.
func (w *Workflow) Pending(ctx context.Context, classID, date string) ([]Request, error) {
	if _, err := auth.RequireInstructor(w.auth); err != nil {
		return nil, err
	}
	return w.requests(ctx, func(r Request) bool {
		return r.ClassID == classID && (date == "" || r.Date == date)
	})
}

func (w *Workflow) requests(ctx context.Context, keep func(Request) bool) ([]Request, error) {
	docs, err := w.adapter.ListDocuments(ctx, w.collection)
	if err != nil {
		return nil, err
	}
	out := lo.FilterMap(docs, func(doc docstore.Document, _ int) (Request, bool) {
		if !isRequest(doc) {
			return Request{}, false
		}
		req, err := decodeRequest(doc)
		if err != nil {
			w.logger.Warn("skipping malformed request", "path", doc.Path, "error", err)
			return Request{}, false
		}
		return req, keep(req)
	})
	slices.SortFunc(out, func(a, b Request) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// StudentStatus returns the student's attendance for the day: the aggregate
// entry when there is one, otherwise requested when a request is open, and
// StatusNone when neither exists. Students may only ask about themselves.
func (w *Workflow) StudentStatus(ctx context.Context, classID, date, studentID string) (model.AttendanceStatus, error) {
	who, err := auth.Require(w.auth)
	if err != nil {
		return model.StatusNone, err
	}
	if who.Role != model.RoleInstructor && who.UserID != studentID {
		return model.StatusNone, model.PermissionDenied("%s may not read attendance of %s", who.UserID, studentID)
	}
	if date, err = checkKeys(classID, date, studentID); err != nil {
		return model.StatusNone, err
	}

	agg, err := w.aggregate(ctx, classID, date)
	if err != nil {
		return model.StatusNone, err
	}
	if s, ok := agg.Attendance[studentID]; ok && s.Approvable() {
		return s, nil
	}

	doc, err := w.adapter.GetDocument(ctx, w.path(model.RecordID(classID, date, studentID)))
	switch {
	case err == nil && isRequest(doc):
		return model.StatusRequested, nil
	case err == nil:
		rec, err := decodeRecord(doc)
		if err != nil {
			return model.StatusNone, model.WrapError(model.KindValidation, "malformed record", err)
		}
		return rec.Status, nil
	case !model.IsKind(err, model.KindNotFound):
		return model.StatusNone, err
	}

	legacy, err := w.requests(ctx, func(r Request) bool {
		return r.ClassID == classID && r.Date == date && r.StudentID == studentID
	})
	if err != nil {
		return model.StatusNone, err
	}
	if len(legacy) > 0 {
		return model.StatusRequested, nil
	}
	return model.StatusNone, nil
}

// Aggregate returns the attendance map of a class for the day. A day
// nobody has been marked on yields an empty map.
func (w *Workflow) Aggregate(ctx context.Context, classID, date string) (Aggregate, error) {
	if _, err := auth.Require(w.auth); err != nil {
		return Aggregate{}, err
	}
	date, err := model.ParseDateKey(date)
	if err != nil {
		return Aggregate{}, err
	}
	if classID == "" {
		return Aggregate{}, model.Validation("class id is required")
	}
	return w.aggregate(ctx, classID, date)
}

func (w *Workflow) aggregate(ctx context.Context, classID, date string) (Aggregate, error) {
	doc, err := w.adapter.GetDocument(ctx, w.path(model.AggregateID(classID, date)))
	if model.IsKind(err, model.KindNotFound) {
		return Aggregate{ClassID: classID, Date: date, Attendance: map[string]model.AttendanceStatus{}}, nil
	}
	if err != nil {
		return Aggregate{}, err
	}
	agg, err := decodeAggregate(doc)
	if err != nil {
		return Aggregate{}, model.WrapError(model.KindValidation, "malformed aggregate", err)
	}
	return agg, nil
}

// checkKeys validates the parts of a document key and returns the date key.
// A student id cannot contain "." because it becomes a field path.
func checkKeys(classID, date, studentID string) (string, error) {
	if classID == "" {
		return "", model.Validation("class id is required")
	}
	if studentID == "" {
		return "", model.Validation("student id is required")
	}
	if strings.Contains(studentID, ".") {
		return "", model.Validation("student id %q must not contain '.'", studentID)
	}
	return model.ParseDateKey(date)
}
