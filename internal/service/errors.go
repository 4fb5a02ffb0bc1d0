package service

import (
	"errors"
	"fmt"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
)

var (
	ErrInvalidValidity     = errors.New("validity must be positive and within the configured maximum")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidProximity    = errors.New("invalid proximity constraint")
	ErrIssuerNotAuthorized = errors.New("issuer not authorized for context")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrForbidden           = errors.New("forbidden")
	ErrNotRedeemed         = errors.New("subject has not redeemed this credential")
	ErrCodeSpaceExhausted  = errors.New("could not allocate a unique credential code")
	ErrGrantNotFound       = errors.New("issuer grant not found")
)

// FaultError is an infrastructure failure surfaced to the caller. RetrySafe is
// true when repeating the same call cannot double count.
type FaultError struct {
	Reason    domain.Reason
	RetrySafe bool
	Err       error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func storageFault(err error) error {
	return &FaultError{Reason: domain.ReasonStorageUnavailable, RetrySafe: true, Err: err}
}

func recordFault(err error) error {
	return &FaultError{Reason: domain.ReasonRecordFailed, RetrySafe: true, Err: err}
}

// AsFault extracts the FaultError from err, if any.
func AsFault(err error) (*FaultError, bool) {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}
