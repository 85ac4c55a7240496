package service

import (
	"testing"

	"github.com/avvvet/doorlock-services/internal/locksvc/clock"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/stretchr/testify/assert"
)

func TestDecideUnlimited(t *testing.T) {
	rec := &models.MemberRecord{UserId: "u", UserType: models.UserUnlimited}
	for _, now := range []int64{clock.Unknown, 1, 1700000000, 4102444800} {
		assert.True(t, Decide(rec, now), "now=%d", now)
	}
}

func TestDecideStandard(t *testing.T) {
	rec := &models.MemberRecord{UserId: "u", UserType: models.UserStandard, SubsEndInSec: 1000}

	assert.True(t, Decide(rec, 999))
	assert.True(t, Decide(rec, 1000))
	assert.False(t, Decide(rec, 1001))
}

func TestDecideStandardIsMonotonic(t *testing.T) {
	rec := &models.MemberRecord{UserId: "u", UserType: models.UserStandard, SubsEndInSec: 1700000000}
	denied := false
	for now := int64(1699999990); now < 1700000010; now++ {
		ok := Decide(rec, now)
		if denied {
			assert.False(t, ok, "access returned at %d after expiry", now)
		}
		if !ok {
			denied = true
		}
	}
	assert.True(t, denied)
}

func TestDecideDeniesUnknownClock(t *testing.T) {
	rec := &models.MemberRecord{UserId: "u", UserType: models.UserStandard, SubsEndInSec: 1700000000}
	assert.False(t, Decide(rec, clock.Unknown))
	assert.False(t, Decide(rec, -5))
}

func TestDecideDeniesUnsetExpiry(t *testing.T) {
	rec := &models.MemberRecord{UserId: "u", UserType: models.UserStandard}
	assert.False(t, Decide(rec, clock.Unknown))
	assert.False(t, Decide(rec, 1700000000))
}

func TestDecideDeniesMissingOrUnknownType(t *testing.T) {
	assert.False(t, Decide(nil, 1700000000))
	assert.False(t, Decide(&models.MemberRecord{UserId: "u", UserType: "Gold", SubsEndInSec: 1800000000}, 1700000000))
}
