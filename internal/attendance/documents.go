package attendance

import (
	"fmt"
	"time"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
)

// Document field names.
const (
	fieldClassID     = "classId"
	fieldSectionID   = "sectionId"
	fieldStudentID   = "studentId"
	fieldStudentName = "studentName"
	fieldDate        = "date"
	fieldStatus      = "status"
	fieldAttendance  = "attendance"
	fieldRequestedAt = "requestedAt"
	fieldUpdatedAt   = "updatedAt"
)

// Request is a student's pending attendance request.
type Request struct {
	ID          string    `json:"id" yaml:"id"`
	ClassID     string    `json:"class_id" yaml:"class_id"`
	StudentID   string    `json:"student_id" yaml:"student_id"`
	StudentName string    `json:"student_name" yaml:"student_name"`
	Date        string    `json:"date" yaml:"date"`
	RequestedAt time.Time `json:"requested_at" yaml:"requested_at"`
}

// Record is a decided attendance entry for one student.
type Record struct {
	ClassID   string                 `json:"class_id" yaml:"class_id"`
	StudentID string                 `json:"student_id" yaml:"student_id"`
	Date      string                 `json:"date" yaml:"date"`
	Status    model.AttendanceStatus `json:"status" yaml:"status"`
	UpdatedAt time.Time              `json:"updated_at" yaml:"updated_at"`
}

// Aggregate is the per-class, per-day map from student to status.
type Aggregate struct {
	ClassID    string                            `json:"class_id" yaml:"class_id"`
	Date       string                            `json:"date" yaml:"date"`
	Attendance map[string]model.AttendanceStatus `json:"attendance" yaml:"attendance"`
	UpdatedAt  time.Time                         `json:"updated_at" yaml:"updated_at"`
}

func requestFields(r Request) map[string]any {
	return map[string]any{
		fieldClassID:     r.ClassID,
		fieldStudentID:   r.StudentID,
		fieldStudentName: r.StudentName,
		fieldDate:        r.Date,
		fieldStatus:      model.RequestMarker,
		fieldRequestedAt: docstore.ServerTimestamp,
	}
}

func recordFields(r Record) map[string]any {
	return map[string]any{
		fieldClassID:   r.ClassID,
		fieldStudentID: r.StudentID,
		fieldDate:      r.Date,
		fieldStatus:    string(r.Status),
		fieldUpdatedAt: docstore.ServerTimestamp,
	}
}

// aggregateOps sets one student's entry. Every other key of the map is left
// as stored.
func aggregateOps(classID, date, studentID string, status model.AttendanceStatus) []docstore.FieldOp {
	return []docstore.FieldOp{
		docstore.Set(fieldSectionID, classID),
		docstore.Set(fieldDate, date),
		docstore.Set(fieldAttendance+"."+studentID, string(status)),
		docstore.Set(fieldUpdatedAt, docstore.ServerTimestamp),
	}
}

func isRequest(doc docstore.Document) bool {
	return str(doc.Fields, fieldStatus) == model.RequestMarker
}

func decodeRequest(doc docstore.Document) (Request, error) {
	f := doc.Fields
	if !isRequest(doc) {
		return Request{}, fmt.Errorf("%s is not a request", doc.Path)
	}
	at, err := model.ParseTimestamp(f[fieldRequestedAt])
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", doc.Path, err)
	}
	return Request{
		ID:          doc.ID(),
		ClassID:     str(f, fieldClassID),
		StudentID:   str(f, fieldStudentID),
		StudentName: str(f, fieldStudentName),
		Date:        str(f, fieldDate),
		RequestedAt: at,
	}, nil
}

func decodeRecord(doc docstore.Document) (Record, error) {
	f := doc.Fields
	status := model.AttendanceStatus(str(f, fieldStatus))
	if !status.Approvable() {
		return Record{}, fmt.Errorf("%s: invalid status %q", doc.Path, status)
	}
	at, err := model.ParseTimestamp(f[fieldUpdatedAt])
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", doc.Path, err)
	}
	return Record{
		ClassID:   str(f, fieldClassID),
		StudentID: str(f, fieldStudentID),
		Date:      str(f, fieldDate),
		Status:    status,
		UpdatedAt: at,
	}, nil
}

func decodeAggregate(doc docstore.Document) (Aggregate, error) {
	f := doc.Fields
	at, err := model.ParseTimestamp(f[fieldUpdatedAt])
	if err != nil {
		return Aggregate{}, fmt.Errorf("%s: %w", doc.Path, err)
	}
	agg := Aggregate{
		ClassID:    str(f, fieldSectionID),
		Date:       str(f, fieldDate),
		Attendance: map[string]model.AttendanceStatus{},
		UpdatedAt:  at,
	}
	raw, _ := f[fieldAttendance].(map[string]any)
	for student, v := range raw {
		s, _ := v.(string)
		agg.Attendance[student] = model.AttendanceStatus(s)
	}
	return agg, nil
}

func str(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return s
}
