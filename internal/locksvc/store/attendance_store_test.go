package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attendance(userId, ts string) models.AttendanceRecord {
	return models.AttendanceRecord{UserId: userId, Timestamp: ts, Status: models.StatusAuthorized}
}

func TestAttendanceSameDayAppends(t *testing.T) {
	log := NewAttendanceLog(t.TempDir())

	require.NoError(t, log.Append(attendance("u1", "2025-03-04 08:00:00")))
	require.NoError(t, log.Append(attendance("u2", "2025-03-04 09:30:00")))

	events, err := log.Day("2025-03-04")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].UserId)
	assert.Equal(t, "u2", events[1].UserId)
}

func TestAttendanceDifferentDaysDoNotMix(t *testing.T) {
	log := NewAttendanceLog(t.TempDir())

	require.NoError(t, log.Append(attendance("u1", "2025-03-04 23:59:59")))
	require.NoError(t, log.Append(attendance("u1", "2025-03-05 00:00:00")))

	first, err := log.Day("2025-03-04")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := log.Day("2025-03-05")
	require.NoError(t, err)
	assert.Len(t, second, 1)

	days, err := log.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-04", "2025-03-05"}, days)
}

func TestAttendanceCorruptDayStartsOver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025-03-04.json"), []byte("[{"), 0o644))
	log := NewAttendanceLog(dir)

	require.NoError(t, log.Append(attendance("u1", "2025-03-04 08:00:00")))

	events, err := log.Day("2025-03-04")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAttendanceRejectsMalformed(t *testing.T) {
	log := NewAttendanceLog(t.TempDir())

	assert.ErrorIs(t, log.Append(attendance("u1", "garbage")), errs.ErrMalformedRecord)
	assert.ErrorIs(t, log.Append(attendance("", "2025-03-04 08:00:00")), errs.ErrMalformedRecord)

	_, err := log.Day("../members")
	assert.ErrorIs(t, err, errs.ErrMalformedRecord)
}

func TestAttendanceMissingDayIsEmpty(t *testing.T) {
	events, err := NewAttendanceLog(t.TempDir()).Day("2025-01-01")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestRetentionSweep(t *testing.T) {
	log := NewAttendanceLog(t.TempDir())
	for _, ts := range []string{"2025-01-01 10:00:00", "2025-02-20 10:00:00", "2025-03-01 10:00:00"} {
		require.NoError(t, log.Append(attendance("u1", ts)))
	}
	today := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	removed, err := log.RetentionSweep(9, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-02-20"}, removed)

	days, err := log.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-01"}, days)

	removed, err = log.RetentionSweep(0, today.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, removed)
}
