package model

import (
	"fmt"
	"time"
)

// AttendanceStatus is a student's attendance for one class on one day.
type AttendanceStatus string

const (
	StatusPresent   AttendanceStatus = "present"
	StatusLate      AttendanceStatus = "late"
	StatusAbsent    AttendanceStatus = "absent"
	StatusRequested AttendanceStatus = "requested"

	// StatusNone means no request and no record exist.
	StatusNone AttendanceStatus = ""
)

// RequestMarker is the status value stored on request documents.
const RequestMarker = "request"

// DateKeyLayout is the YYYY-MM-DD calendar-day format of attendance keys.
const DateKeyLayout = "2006-01-02"

// Approvable reports whether an instructor may approve a request as s.
func (s AttendanceStatus) Approvable() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// ParseAttendanceStatus parses an approvable status.
func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	status := AttendanceStatus(s)
	if !status.Approvable() {
		return StatusNone, Validation("invalid attendance status %q: must be present, late or absent", s)
	}
	return status, nil
}

// DateKey formats t as its local calendar day.
func DateKey(t time.Time) string {
	return t.Local().Format(DateKeyLayout)
}

// ParseDateKey validates a YYYY-MM-DD key and returns it unchanged.
func ParseDateKey(s string) (string, error) {
	if _, err := time.ParseInLocation(DateKeyLayout, s, time.Local); err != nil {
		return "", Validation("invalid date key %q: expected YYYY-MM-DD", s)
	}
	return s, nil
}

// AggregateID is the id of the per-class-per-day attendance map document.
func AggregateID(classID, dateKey string) string {
	return fmt.Sprintf("%s_%s", classID, dateKey)
}

// RecordID is the id of a per-student attendance record. Requests created by
// this module use the same id, so approving overwrites the request in place.
func RecordID(classID, dateKey, studentID string) string {
	return fmt.Sprintf("%s_%s_%s", classID, dateKey, studentID)
}
