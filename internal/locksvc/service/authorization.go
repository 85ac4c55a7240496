package service

import (
	"github.com/avvvet/doorlock-services/internal/locksvc/clock"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
)

// Decide is the access policy. Unlimited members always pass. A standard
// member passes while subsEndInSec >= now; an unknown clock, a missing record
// or an unset expiry all deny.
func Decide(rec *models.MemberRecord, now int64) bool {
	if rec == nil {
		return false
	}
	switch rec.UserType {
	case models.UserUnlimited:
		return true
	case models.UserStandard:
		if !clock.Known(now) || rec.SubsEndInSec <= 0 {
			return false
		}
		return rec.SubsEndInSec >= now
	default:
		return false
	}
}
