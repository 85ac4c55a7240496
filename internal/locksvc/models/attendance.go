package models

import "time"

type AttendanceStatus string

const (
	StatusAuthorized AttendanceStatus = "authorized"
	StatusDenied     AttendanceStatus = "denied"
	StatusUnknown    AttendanceStatus = "unknown" // matched template with no directory record
)

// TimestampLayout is the attendance timestamp format; the first 10 characters are the day key.
const TimestampLayout = "2006-01-02 15:04:05"

// AttendanceRecord is one immutable audit entry.
type AttendanceRecord struct {
	UserId    string           `json:"userId"`
	Timestamp string           `json:"timestamp"`
	Status    AttendanceStatus `json:"status"`
}

// DayKey returns the YYYY-MM-DD partition of the record, or "" if the timestamp is too short.
func (a AttendanceRecord) DayKey() string {
	if len(a.Timestamp) < len(DateLayout) {
		return ""
	}
	return a.Timestamp[:len(DateLayout)]
}

// FormatTimestamp renders epoch seconds in loc using TimestampLayout.
func FormatTimestamp(epoch int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(epoch, 0).In(loc).Format(TimestampLayout)
}
