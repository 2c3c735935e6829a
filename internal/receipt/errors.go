package receipt

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Error taxonomy shared by every remote component. Component errors wrap
// one of these alongside their own sentinel.
var (
	ErrTransient     = errors.New("transient network failure")
	ErrAuth          = errors.New("authentication failure")
	ErrMalformed     = errors.New("malformed response")
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

// ClassifyStatus maps a non-2xx HTTP status to a taxonomy error. It
// returns nil for statuses with no specific class.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrAlreadyExists
	case code == http.StatusTooManyRequests, code >= 500:
		return ErrTransient
	}
	return nil
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Dial, DNS and timeout failures all surface as net.Error
	var netErr net.Error
	return errors.As(err, &netErr)
}
