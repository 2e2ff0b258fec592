package geo

import "errors"

var (
	// ErrGeocoderUnavailable is transient: the provider timed out or errored.
	ErrGeocoderUnavailable = errors.New("geocoder unavailable")
	// ErrGeocoderNotFound is permanent: the provider has no match for the address.
	ErrGeocoderNotFound = errors.New("address not found")
)

// TransientError marks a provider failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

func (e *TransientError) Is(target error) bool { return target == ErrGeocoderUnavailable }

func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
