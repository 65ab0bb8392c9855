package repository

import (
	"time"

	"github.com/iliyamo/club-event-registration/internal/model"
)

// CheckEligible reports why studentID may not register for l at now, or
// nil if it may. The order is fixed: a closed listing is reported before
// a passed deadline, and a student who already holds a spot is told so
// even when that spot was the last one.
func CheckEligible(l *model.Listing, studentID uint64, now time.Time) error {
	switch {
	case !l.IsActive:
		return ErrNotActive
	case l.DeadlinePassed(now):
		return ErrDeadlinePassed
	}
	if _, ok := l.Entry(studentID); ok {
		return ErrAlreadyRegistered
	}
	if l.Full() {
		return ErrCapacityFull
	}
	return nil
}
