package scanning

import (
	"context"
	"errors"
	"time"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var (
	// ErrExtractionFailed means submission retries were exhausted or the
	// service reported the analysis as failed.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrInvalidResponse means the service answered with a payload we cannot read
	ErrInvalidResponse = errors.New("invalid extraction response")
	// ErrExtractionTimedOut means the poll budget elapsed without a final status
	ErrExtractionTimedOut = errors.New("extraction timed out")
	// ErrAuthentication means the service rejected the credential
	ErrAuthentication = errors.New("extraction credential rejected")
)

// Extractor defines the interface for receipt field extraction
type Extractor interface {
	// Extract analyzes a receipt image and returns the complete field record
	Extract(ctx context.Context, img receipt.Image) (receipt.Fields, error)
	// Close releases resources
	Close() error
}

// Clock abstracts time so retry and poll loops can be driven deterministically
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
