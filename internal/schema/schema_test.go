package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/model"
)

func feedItemDoc() map[string]any {
	return map[string]any{
		"authorId":          "u1",
		"authorDisplayName": "Ada",
		"role":              "student",
		"message":           "hello",
		"createdAt":         docstore.ServerTimestamp,
		"likes":             0,
		"likedBy":           []string{},
		"comments":          0,
	}
}

func TestValidate_FeedItem(t *testing.T) {
	v := Default()

	require.NoError(t, v.Validate(FeedItem, feedItemDoc()))

	withImage := feedItemDoc()
	withImage["image"] = "img://1"
	withImage["files"] = []string{"file://a"}
	withImage["links"] = []string{"https://example.com"}
	assert.NoError(t, v.Validate(FeedItem, withImage))

	confirmed := feedItemDoc()
	confirmed["createdAt"] = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.NoError(t, v.Validate(FeedItem, confirmed))
}

func TestValidate_FeedItemRejects(t *testing.T) {
	v := Default()

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing author", func(d map[string]any) { delete(d, "authorId") }},
		{"bad role", func(d map[string]any) { d["role"] = "admin" }},
		{"negative likes", func(d map[string]any) { d["likes"] = -1 }},
		{"unknown field", func(d map[string]any) { d["pinned"] = true }},
		{"empty image", func(d map[string]any) { d["image"] = "" }},
		{"likes not int", func(d map[string]any) { d["likes"] = "one" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := feedItemDoc()
			tt.mutate(doc)
			err := v.Validate(FeedItem, doc)
			require.Error(t, err)
			assert.True(t, model.IsKind(err, model.KindValidation))
		})
	}
}

func TestValidate_Comment(t *testing.T) {
	v := Default()
	doc := map[string]any{
		"author":    "Ada",
		"authorId":  "u1",
		"role":      "student",
		"message":   "nice",
		"createdAt": docstore.ServerTimestamp,
	}
	require.NoError(t, v.Validate(Comment, doc))

	doc["message"] = ""
	assert.Error(t, v.Validate(Comment, doc))
}

func TestValidate_Attendance(t *testing.T) {
	v := Default()

	request := map[string]any{
		"classId":     "C1",
		"studentId":   "stu1",
		"studentName": "Sam",
		"date":        "2025-11-03",
		"status":      "request",
		"requestedAt": docstore.ServerTimestamp,
	}
	require.NoError(t, v.Validate(AttendanceRequest, request))

	record := map[string]any{
		"classId":   "C1",
		"studentId": "stu1",
		"date":      "2025-11-03",
		"status":    "late",
		"updatedAt": docstore.ServerTimestamp,
	}
	require.NoError(t, v.Validate(AttendanceRecord, record))

	record["status"] = "request"
	assert.Error(t, v.Validate(AttendanceRecord, record))

	request["date"] = "03/11/2025"
	assert.Error(t, v.Validate(AttendanceRequest, request))
}

func TestValidatePartial_AggregateUpdate(t *testing.T) {
	v := Default()
	ops := []docstore.FieldOp{
		docstore.Set("attendance.stu1", "late"),
		docstore.Set("sectionId", "C1"),
		docstore.Set("date", "2025-11-03"),
		docstore.Set("updatedAt", docstore.ServerTimestamp),
	}
	require.NoError(t, v.ValidatePartial(AttendanceAggregate, Fields(ops)))

	// Missing fields are fine for a partial update, wrong values are not.
	assert.NoError(t, v.ValidatePartial(AttendanceAggregate, Fields(ops[:1])))
	bad := Fields([]docstore.FieldOp{docstore.Set("attendance.stu1", "requested")})
	assert.Error(t, v.ValidatePartial(AttendanceAggregate, bad))
}

func TestFields_NestsDottedPaths(t *testing.T) {
	got := Fields([]docstore.FieldOp{
		docstore.Set("attendance.s1", "present"),
		docstore.Set("attendance.s2", "late"),
		docstore.Increment("ignored", 1),
	})
	assert.Equal(t, map[string]any{
		"attendance": map[string]any{"s1": "present", "s2": "late"},
	}, got)
}
