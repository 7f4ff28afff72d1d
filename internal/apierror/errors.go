package apierror

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is the cancellation cause for caller-initiated aborts.
	ErrAborted = errors.New("request aborted")

	// ErrRequestTimeout is the cancellation cause when a per-request timeout fires.
	ErrRequestTimeout = fmt.Errorf("%w: request timed out", ErrAborted)

	// ErrStorageQuota is raised by persistence when the byte quota would be exceeded.
	ErrStorageQuota = errors.New("storage quota exceeded")
)

// StatusError is returned by backends for non-2xx HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// ConfigError reports an APIConfig that failed local validation.
type ConfigError struct {
	Field  string
	Reason string
}

// Config field names used by ConfigError.
const (
	FieldAPIKey  = "apiKey"
	FieldBaseURL = "baseURL"
	FieldModel   = "model"
)

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid API config: %s %s", e.Field, e.Reason)
}

// Permanent reports that a config failure is never worth retrying.
func (e *ConfigError) Permanent() bool { return true }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks err so the retry engine stops after it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether anything in err's chain is marked permanent.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
