package apierror

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

//nolint:gochecknoglobals // Static lookup table
var connectivityHints = []string{
	"fetch",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
}

// Classify maps any error onto an APIError. It is idempotent: an APIError in the
// chain is returned as is.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	return New(kindOf(err), err)
}

func kindOf(err error) Kind {
	if isAbort(err) {
		return KindAborted
	}

	if errors.Is(err, ErrStorageQuota) {
		return KindStorageQuota
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		if cfgErr.Field == FieldAPIKey {
			return KindAuthInvalid
		}
		return KindInvalidResponse
	}

	if isConnectivity(err) {
		return KindNetwork
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuthInvalid
		case http.StatusTooManyRequests:
			return KindRateLimit
		default:
			return KindInvalidResponse
		}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range connectivityHints {
		if strings.Contains(msg, hint) {
			return KindNetwork
		}
	}

	return KindInvalidResponse
}

func isAbort(err error) bool {
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
		return true
	}

	// A deadline that surfaced through the transport is a timeout on the wire.
	if errors.Is(err, context.DeadlineExceeded) {
		var urlErr *url.Error
		return !errors.As(err, &urlErr)
	}

	return false
}

func isConnectivity(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
