package models

import (
	"fmt"
	"time"
)

type UserType string

const (
	UserStandard  UserType = "Standard"
	UserUnlimited UserType = "Unlimited"
)

func (t UserType) Valid() bool {
	return t == UserStandard || t == UserUnlimited
}

// DateLayout is the calendar date format used for subscriptionEnd and day keys.
const DateLayout = "2006-01-02"

// MemberRecord is one enrolled identity in the membership directory.
type MemberRecord struct {
	UserId          string   `json:"userId"`
	Name            string   `json:"name"`
	UserType        UserType `json:"userType"`
	SubscriptionEnd string   `json:"subscriptionEnd,omitempty"`
	SubsEndInSec    int64    `json:"subsEndInSec"`
	PunchingId1     int      `json:"punchingId1"`
	PunchingId2     *int     `json:"punchingId2,omitempty"`
}

// HasSlot reports whether slotID is bound to this record.
func (m *MemberRecord) HasSlot(slotID int) bool {
	if m.PunchingId1 == slotID {
		return true
	}
	return m.PunchingId2 != nil && *m.PunchingId2 == slotID
}

// Slots returns the bound slot ids, primary first.
func (m *MemberRecord) Slots() []int {
	slots := []int{m.PunchingId1}
	if m.PunchingId2 != nil {
		slots = append(slots, *m.PunchingId2)
	}
	return slots
}

// Validate checks the record against a sensor with the given capacity.
// Valid slot ids are 1..capacity-1; 0 is the "no id" sentinel.
func (m *MemberRecord) Validate(capacity int) error {
	if m.UserId == "" {
		return fmt.Errorf("empty userId")
	}
	if !m.UserType.Valid() {
		return fmt.Errorf("user %s: unknown userType %q", m.UserId, m.UserType)
	}
	if m.PunchingId1 < 1 || m.PunchingId1 > capacity-1 {
		return fmt.Errorf("user %s: punchingId1 %d out of range", m.UserId, m.PunchingId1)
	}
	if m.PunchingId2 != nil {
		id := *m.PunchingId2
		if id < 1 || id > capacity-1 || id == m.PunchingId1 {
			return fmt.Errorf("user %s: punchingId2 %d invalid", m.UserId, id)
		}
	}
	return nil
}

// SubscriptionEndEpoch converts a YYYY-MM-DD date to the last second of that
// day in loc. The member stays authorized through the whole end date.
func SubscriptionEndEpoch(date string, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return 0, fmt.Errorf("subscriptionEnd %q: %w", date, err)
	}
	return day.AddDate(0, 0, 1).Add(-time.Second).Unix(), nil
}
