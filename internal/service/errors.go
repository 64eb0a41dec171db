package service

import (
	"errors"
)

var (
	// ErrInvalidCredentials covers unknown username and bad password alike so
	// responses stay indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDeviceNotApproved  = errors.New("device-not-approved")
	ErrUserExists         = errors.New("user-exists")
	ErrUsersExist         = errors.New("users-exist")
)

// ValidationError marks a client-fault request (missing required field).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationError(msg string) error {
	return &ValidationError{Msg: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
