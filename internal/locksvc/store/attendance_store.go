package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	log "github.com/sirupsen/logrus"
)

const dayFileExt = ".json"

// AttendanceLog keeps one append-only event list per calendar day.
type AttendanceLog struct {
	dir string
}

func NewAttendanceLog(dir string) *AttendanceLog {
	return &AttendanceLog{dir: dir}
}

func validDayKey(key string) bool {
	_, err := time.Parse(models.DateLayout, key)
	return err == nil
}

func (a *AttendanceLog) dayPath(key string) string {
	return filepath.Join(a.dir, key+dayFileExt)
}

// Append adds rec to the file of its day. An unreadable or corrupt day file
// is treated as empty and overwritten.
func (a *AttendanceLog) Append(rec models.AttendanceRecord) error {
	key := rec.DayKey()
	if !validDayKey(key) {
		return errs.Malformed("append attendance", "timestamp %q has no date", rec.Timestamp)
	}
	if rec.UserId == "" {
		return errs.Malformed("append attendance", "empty userId")
	}

	events, err := a.readDay(key)
	if err != nil {
		log.Warnf("attendance: day %s unreadable, starting a new list: %s", key, err)
		events = nil
	}
	events = append(events, rec)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return errs.Persistence("append attendance", err)
	}
	if err := writeFileAtomic(a.dayPath(key), data); err != nil {
		return errs.Persistence("append attendance", err)
	}
	return nil
}

// Day returns the events of one day in append order; a missing day is empty.
func (a *AttendanceLog) Day(key string) ([]models.AttendanceRecord, error) {
	if !validDayKey(key) {
		return nil, errs.Malformed("read attendance", "invalid day %q", key)
	}
	events, err := a.readDay(key)
	if err != nil {
		return nil, errs.Persistence("read attendance", err)
	}
	if events == nil {
		events = []models.AttendanceRecord{}
	}
	return events, nil
}

func (a *AttendanceLog) readDay(key string) ([]models.AttendanceRecord, error) {
	data, err := os.ReadFile(a.dayPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []models.AttendanceRecord
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Days lists the stored day keys in chronological order.
func (a *AttendanceLog) Days() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Persistence("list attendance", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, dayFileExt) {
			continue
		}
		key := strings.TrimSuffix(name, dayFileExt)
		if validDayKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// RetentionSweep deletes day files older than today minus daysToKeep and
// returns the removed keys. Keys are zero padded, so string order is date order.
func (a *AttendanceLog) RetentionSweep(daysToKeep int, today time.Time) ([]string, error) {
	if daysToKeep <= 0 {
		return nil, nil
	}
	cutoff := today.AddDate(0, 0, -daysToKeep).Format(models.DateLayout)

	keys, err := a.Days()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, key := range keys {
		if key >= cutoff {
			break
		}
		if err := os.Remove(a.dayPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, errs.Persistence("retention sweep", err)
		}
		removed = append(removed, key)
	}
	if len(removed) > 0 {
		log.Infof("attendance: retention removed %d day file(s) before %s", len(removed), cutoff)
	}
	return removed, nil
}
