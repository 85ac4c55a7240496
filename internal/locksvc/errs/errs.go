package errs

import (
	"errors"
	"fmt"
)

// Device error kinds. Every failure that leaves a lock operation is, or wraps, one of these.
var (
	ErrSensorCommunication     = errors.New("sensor communication error")
	ErrSensorStorageFull       = errors.New("sensor storage full")
	ErrSensorImageQuality      = errors.New("sensor image quality error")
	ErrSensorLocation          = errors.New("sensor template location error")
	ErrEnrollmentMismatch      = errors.New("enrollment samples do not match")
	ErrNoFinger                = errors.New("no finger presented")
	ErrPersistence             = errors.New("persistence error")
	ErrNotFound                = errors.New("not found")
	ErrMalformedRecord         = errors.New("malformed record")
	ErrRegistrationAlreadyDone = errors.New("device already registered")
)

var codes = []struct {
	kind error
	code string
}{
	{ErrSensorCommunication, "sensor_communication"},
	{ErrSensorStorageFull, "sensor_storage_full"},
	{ErrSensorImageQuality, "sensor_image_quality"},
	{ErrSensorLocation, "sensor_location"},
	{ErrEnrollmentMismatch, "enrollment_mismatch"},
	{ErrNoFinger, "no_finger"},
	{ErrPersistence, "persistence"},
	{ErrNotFound, "not_found"},
	{ErrMalformedRecord, "malformed_record"},
	{ErrRegistrationAlreadyDone, "registration_already_done"},
}

// Error is a classified failure. Kind is one of the package sentinels; Reason
// distinguishes terminal outcomes that share a kind (e.g. "image_messy" vs
// "feature_extraction").
type Error struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error for op.
func New(kind error, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Persistence is shorthand for wrapping a storage failure.
func Persistence(op string, err error) error {
	return Wrap(ErrPersistence, op, err)
}

// Malformed reports a record that failed validation.
func Malformed(op, format string, args ...any) error {
	return &Error{Kind: ErrMalformedRecord, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Code returns the stable wire code for err, "internal" when err carries no known kind.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal"
}

// ReasonOf returns the Reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
