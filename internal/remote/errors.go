package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var (
	// ErrNotAuthenticated means no valid credential is available, or the
	// backing store rejected it
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRequestFailed means the backing store answered with a non-2xx status
	// or could not be reached
	ErrRequestFailed = errors.New("remote request failed")
	// ErrInvalidResponse means a response body could not be parsed
	ErrInvalidResponse = errors.New("invalid remote response")
	// ErrUploadInitiationFailed means the resumable session could not be opened
	ErrUploadInitiationFailed = errors.New("upload initiation failed")
	// ErrUploadFailed means the payload transfer was rejected
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotAuthorized means the credential is not valid for the ledger
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAppendFailed means the ledger row could not be appended
	ErrAppendFailed = errors.New("ledger append failed")
)

// apiError wraps a Google API client error with the component sentinel and
// the taxonomy class. Credential rejections use authErr instead of component.
func apiError(component, authErr error, op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		class := receipt.ClassifyStatus(gerr.Code)
		switch {
		case errors.Is(class, receipt.ErrAuth):
			return fmt.Errorf("%w: %w: %s: %w", authErr, receipt.ErrAuth, op, err)
		case class != nil:
			return fmt.Errorf("%w: %w: %s: %w", component, class, op, err)
		}
		return fmt.Errorf("%w: %s: %w", component, op, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w: %s: %w", ErrInvalidResponse, receipt.ErrMalformed, op, err)
	}

	if receipt.IsTransient(err) {
		return fmt.Errorf("%w: %w: %s: %w", component, receipt.ErrTransient, op, err)
	}
	return fmt.Errorf("%w: %s: %w", component, op, err)
}

func notAuthorized() error {
	return fmt.Errorf("%w: %w: no valid credential", ErrNotAuthorized, receipt.ErrAuth)
}
