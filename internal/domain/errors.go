package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrConsistency   = errors.New("consistency error")
)

var (
	ErrInvalidID          = fmt.Errorf("%w: invalid id", ErrValidation)
	ErrInvalidName        = fmt.Errorf("%w: invalid name", ErrValidation)
	ErrInvalidRole        = fmt.Errorf("%w: invalid role", ErrValidation)
	ErrInvalidKind        = fmt.Errorf("%w: invalid record kind", ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidQuantity    = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrInvalidMeasurement = fmt.Errorf("%w: invalid measurement", ErrValidation)
	ErrInvalidTransition  = fmt.Errorf("%w: invalid transition", ErrValidation)
	ErrInvalidComposition = fmt.Errorf("%w: invalid composition", ErrValidation)
	ErrInvalidCodeSeed    = fmt.Errorf("%w: invalid code seed", ErrValidation)
	ErrInvalidYear        = fmt.Errorf("%w: invalid year", ErrValidation)
	ErrInvalidReference   = fmt.Errorf("%w: invalid reference", ErrValidation)
	ErrAlreadyTested      = fmt.Errorf("%w: collection already has a test record", ErrValidation)
	ErrAlreadyReceived    = fmt.Errorf("%w: product already has a packaging record", ErrValidation)

	ErrRoleNotAllowed = fmt.Errorf("%w: role does not own this stage", ErrAuthorization)
	ErrNotOwner       = fmt.Errorf("%w: actor does not own this record", ErrAuthorization)
	ErrReadOnly       = fmt.Errorf("%w: record is read-only", ErrAuthorization)

	ErrVersionMismatch = fmt.Errorf("%w: record version changed", ErrConflict)
	ErrDuplicate       = fmt.Errorf("%w: record already exists", ErrConflict)

	ErrOverConsumption  = fmt.Errorf("%w: batch consumption exceeds accepted quantity", ErrConsistency)
	ErrBrokenProvenance = fmt.Errorf("%w: broken provenance chain", ErrConsistency)
	ErrCodeCollision    = fmt.Errorf("%w: minted code already issued", ErrConsistency)
)

// ErrorKind labels an error by taxonomy.
type ErrorKind string

// ErrorKind values.
const (
	KindUnknown       ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindConsistency   ErrorKind = "consistency"
)

// KindOf classifies err into the engine error taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether a caller may refetch and resubmit after err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
