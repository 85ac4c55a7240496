package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/allocator"
	"github.com/avvvet/doorlock-services/internal/locksvc/clock"
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/avvvet/doorlock-services/internal/locksvc/sensor"
	"github.com/avvvet/doorlock-services/internal/locksvc/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Location        *time.Location
	UnlockDuration  time.Duration
	DataDir         string
	StorageCapacity int64
}

// Decision is the outcome of one finger presented at the reader.
type Decision struct {
	SlotID     int
	Confidence int
	Member     *models.MemberRecord
	Status     models.AttendanceStatus
	Epoch      int64
	Timestamp  string
}

func (d *Decision) Authorized() bool {
	return d.Status == models.StatusAuthorized
}

// AccessService owns the sensor, the allocator and both stores. Every
// operation runs under one lock, so enrollment and identification never
// interleave on the sensor.
type AccessService struct {
	mu         sync.Mutex
	gateway    *sensor.Gateway
	alloc      *allocator.Allocator
	members    *store.MemberStore
	attendance *store.AttendanceLog
	clock      clock.Clock
	actuator   Actuator
	opts       Options
}

func NewAccessService(
	gateway *sensor.Gateway,
	alloc *allocator.Allocator,
	members *store.MemberStore,
	attendance *store.AttendanceLog,
	clk clock.Clock,
	actuator Actuator,
	opts Options,
) *AccessService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.UnlockDuration <= 0 {
		opts.UnlockDuration = 3 * time.Second
	}
	return &AccessService{
		gateway:    gateway,
		alloc:      alloc,
		members:    members,
		attendance: attendance,
		clock:      clk,
		actuator:   actuator,
		opts:       opts,
	}
}

// Enroll captures one or two fingers for a new member and stores the record.
// Any template captured for a request that fails is removed again.
func (s *AccessService) Enroll(ctx context.Context, req comm.EnrollRequest) (models.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.newRecord(req)
	if err != nil {
		return models.MemberRecord{}, err
	}

	if _, err := s.members.FindByUserID(rec.UserId); err == nil {
		return models.MemberRecord{}, errs.Malformed("enroll", "user %s already enrolled", rec.UserId)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return models.MemberRecord{}, err
	}

	first, err := s.enrollSlot(ctx)
	if err != nil {
		return models.MemberRecord{}, err
	}
	rec.PunchingId1 = first

	if req.SecondFinger {
		second, err := s.enrollSlot(ctx)
		if err != nil {
			s.revoke(first)
			return models.MemberRecord{}, err
		}
		rec.PunchingId2 = &second
	}

	if err := s.members.Add(rec); err != nil {
		for _, id := range rec.Slots() {
			s.revoke(id)
		}
		return models.MemberRecord{}, err
	}

	log.Infof("enroll: user %s bound to slot(s) %v", rec.UserId, rec.Slots())
	return rec, nil
}

func (s *AccessService) newRecord(req comm.EnrollRequest) (models.MemberRecord, error) {
	rec := models.MemberRecord{
		UserId:          req.UserId,
		Name:            req.Name,
		UserType:        req.UserType,
		SubscriptionEnd: req.SubscriptionEnd,
	}
	if rec.UserId == "" {
		return rec, errs.Malformed("enroll", "missing userId")
	}
	if !rec.UserType.Valid() {
		return rec, errs.Malformed("enroll", "unknown userType %q", rec.UserType)
	}
	if rec.SubscriptionEnd == "" {
		if rec.UserType == models.UserStandard {
			return rec, errs.Malformed("enroll", "standard user %s needs subscriptionEnd", rec.UserId)
		}
		return rec, nil
	}
	end, err := models.SubscriptionEndEpoch(rec.SubscriptionEnd, s.opts.Location)
	if err != nil {
		return rec, errs.Malformed("enroll", "%s", err)
	}
	rec.SubsEndInSec = end
	return rec, nil
}

func (s *AccessService) enrollSlot(ctx context.Context) (int, error) {
	id, err := s.alloc.Allocate()
	if err != nil {
		return allocator.NoID, err
	}
	if err := s.gateway.Enroll(ctx, id); err != nil {
		return allocator.NoID, err
	}
	if err := s.alloc.Commit(id); err != nil {
		s.revoke(id)
		return allocator.NoID, err
	}
	return id, nil
}

func (s *AccessService) revoke(id int) {
	if err := s.gateway.Revoke(id); err != nil {
		log.Warnf("enroll: could not release slot %d: %s", id, err)
	}
}

// Delete removes a member and every template bound to them.
func (s *AccessService) Delete(userId string) (models.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userId == "" {
		return models.MemberRecord{}, errs.Malformed("delete", "missing userId")
	}
	rec, err := s.members.Delete(userId)
	if err != nil {
		return rec, err
	}
	log.Infof("delete: user %s removed, slot(s) %v released", rec.UserId, rec.Slots())
	return rec, nil
}

// Identify runs one read cycle. It returns (nil, nil) when no finger is on
// the reader or the finger matches no template.
func (s *AccessService) Identify(ctx context.Context) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match, err := s.gateway.Match(ctx)
	switch {
	case errors.Is(err, errs.ErrNoFinger), errors.Is(err, errs.ErrNotFound):
		if errors.Is(err, errs.ErrNotFound) {
			log.Info("access: finger not recognised")
		}
		return nil, nil
	case err != nil:
		return nil, err
	}

	now := s.clock.Now()
	d := &Decision{SlotID: match.SlotID, Confidence: match.Confidence, Epoch: now}
	if clock.Known(now) {
		d.Timestamp = models.FormatTimestamp(now, s.opts.Location)
	}

	rec, err := s.members.FindBySlotID(match.SlotID)
	if errors.Is(err, errs.ErrNotFound) {
		log.Warnf("access: slot %d has a template but no member", match.SlotID)
		d.Status = models.StatusUnknown
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Member = &rec

	if Decide(&rec, now) {
		d.Status = models.StatusAuthorized
		s.actuator.Unlock(s.opts.UnlockDuration)
	} else {
		d.Status = models.StatusDenied
	}
	log.Infof("access: user %s slot %d %s", rec.UserId, match.SlotID, d.Status)

	if d.Timestamp == "" {
		log.Warnf("access: clock not synced, event for %s not logged", rec.UserId)
		return d, nil
	}
	err = s.attendance.Append(models.AttendanceRecord{
		UserId:    rec.UserId,
		Timestamp: d.Timestamp,
		Status:    d.Status,
	})
	if err != nil {
		log.Errorf("access: attendance append failed: %s", err)
	}
	return d, nil
}

func (s *AccessService) Members() ([]models.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Load()
}

func (s *AccessService) Attendance(day string) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attendance.Day(day)
}

// FillInfo adds the sensor and directory counters to info.
func (s *AccessService) FillInfo(info *comm.DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.gateway.TemplateCount()
	if err != nil {
		return err
	}
	members, err := s.members.Load()
	if err != nil {
		return err
	}
	info.SensorCapacity = s.gateway.Capacity()
	info.TemplateCount = count
	info.MemberCount = len(members)
	info.LastUsedID = s.alloc.LastUsed()
	info.ClockSynced = clock.Known(s.clock.Now())
	return nil
}

// Storage reports the space used by the data directory against the
// configured partition size.
func (s *AccessService) Storage() (comm.StorageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used, err := store.DirUsage(s.opts.DataDir)
	if err != nil {
		return comm.StorageStatus{}, err
	}
	total := s.opts.StorageCapacity
	st := comm.StorageStatus{TotalBytes: total, UsedBytes: used, UsedPercent: "0.00"}
	if total > 0 {
		st.FreeBytes = max(total-used, 0)
		st.UsedPercent = decimal.NewFromInt(used).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(total)).
			StringFixed(2)
	}
	return st, nil
}

// Sweep applies attendance retention relative to the device clock. Nothing
// is removed while the clock is unknown.
func (s *AccessService) Sweep(daysToKeep int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !clock.Known(now) {
		return nil, nil
	}
	return s.attendance.RetentionSweep(daysToKeep, time.Unix(now, 0).In(s.opts.Location))
}
