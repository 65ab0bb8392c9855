// Package repository holds the persistence layer: the MySQL identity
// store, the MongoDB catalog store and the in-memory catalog used in
// demo mode and tests. The sentinel values below are *apperr.Error so
// that handlers can translate them without knowing which store raised
// them. Match them with errors.Is.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iliyamo/club-event-registration/internal/apperr"
)

// Lookup failures.
var (
	ErrListingNotFound = apperr.NotFound("listing not found")
	ErrAdminNotFound   = apperr.NotFound("admin not found")
	ErrStudentNotFound = apperr.NotFound("student not found")
)

// Registration refusals, in the order they are checked.
var (
	ErrNotActive         = apperr.Conflict("registration is not open for this listing")
	ErrDeadlinePassed    = apperr.Conflict("registration deadline has passed")
	ErrAlreadyRegistered = apperr.Conflict("already registered")
	ErrCapacityFull      = apperr.Conflict("no spots remaining")
)

// Write conflicts.
var (
	// ErrCapacityBelowRoster is returned when an update would set a
	// capacity smaller than the number of students already registered.
	ErrCapacityBelowRoster = apperr.Conflict("capacity is below the current number of registrations")

	ErrUsernameTaken      = apperr.Conflict("username already taken")
	ErrEmailTaken         = apperr.Conflict("email already registered")
	ErrStudentNumberTaken = apperr.Conflict("student number already registered")

	// ErrGoogleSubTaken means a concurrent first login created the row;
	// the auth service re-reads on it.
	ErrGoogleSubTaken = apperr.Conflict("google account already registered")
)

// storeErr wraps err for op, classifying connectivity failures of either
// driver as Unavailable so that the HTTP layer answers 503.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if isUnavailable(err) {
		return apperr.Unavailable("storage unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
