// Package common provides shared constants, types, and utilities
// used across the WireGuard Manager application.
package common

import "errors"

// Sentinel errors for tunnel sessions.
// These can be checked with errors.Is() for proper error handling.
var (
	// Session errors.
	ErrAlreadyActive      = errors.New("a tunnel session is already active")
	ErrConfigInvalid      = errors.New("invalid tunnel configuration")
	ErrInterface          = errors.New("network interface error")
	ErrHandshakeTimeout   = errors.New("handshake timed out")
	ErrEngine             = errors.New("tunnel engine error")
	ErrHealthCheckTimeout = errors.New("tunnel health check timed out")
	ErrCancelled          = errors.New("operation cancelled")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// Service errors.
	ErrServiceUnavailable = errors.New("wg-manager daemon is not running")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

// Kind returns the session sentinel that err wraps, or nil when err is not
// one of the session error kinds.
func Kind(err error) error {
	for _, kind := range []error{
		ErrAlreadyActive,
		ErrConfigInvalid,
		ErrInterface,
		ErrHandshakeTimeout,
		ErrEngine,
		ErrHealthCheckTimeout,
		ErrCancelled,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
