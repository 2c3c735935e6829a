package pipeline

import (
	"fmt"

	"github.com/zombor/receipt-vault/internal/receipt"
	"github.com/zombor/receipt-vault/internal/remote"
)

// Outcome describes how far a completed run got
type Outcome int

const (
	// OutcomeNone is the outcome of a failed run
	OutcomeNone Outcome = iota
	// LocalOnly means the document was saved locally and remote sync was
	// skipped for lack of a credential
	LocalOnly
	// LocalAndRemote means every stage succeeded
	LocalAndRemote
	// LocalWithRemoteWarning means the document was saved locally but a
	// remote stage failed
	LocalWithRemoteWarning
)

func (o Outcome) String() string {
	switch o {
	case LocalOnly:
		return "local_only"
	case LocalAndRemote:
		return "local_and_remote"
	case LocalWithRemoteWarning:
		return "local_with_remote_warning"
	}
	return "none"
}

// Result is the final state of one run
type Result struct {
	RunID string
	// Stage is Complete or Failed
	Stage   receipt.Stage
	Outcome Outcome
	Fields  receipt.Fields
	Period  receipt.Period
	// LocalPath is the stored document path relative to the storage root
	LocalPath    string
	Location     remote.Location
	RemoteFileID string
	// WarningStage is the remote stage that failed for LocalWithRemoteWarning
	WarningStage receipt.Stage
	Warning      error
	// Err is the reason a run Failed
	Err   error
	Notes []string
}

// Summary is the user-facing description of the result, with the reason
// for any failure and what was achieved anyway
func (r Result) Summary() string {
	if r.Stage == receipt.StageFailed {
		return fmt.Sprintf("failed: %v", r.Err)
	}
	switch r.Outcome {
	case LocalOnly:
		return fmt.Sprintf("saved locally to %s; remote sync skipped, not signed in", r.LocalPath)
	case LocalAndRemote:
		return fmt.Sprintf("saved locally to %s and synced", r.LocalPath)
	case LocalWithRemoteWarning:
		if r.WarningStage == receipt.StageAppendingLedger {
			return fmt.Sprintf("saved locally to %s and uploaded, ledger not updated: %v", r.LocalPath, r.Warning)
		}
		return fmt.Sprintf("saved locally to %s, not uploaded: %v", r.LocalPath, r.Warning)
	}
	return "incomplete"
}

// Progress is one stage transition
type Progress struct {
	RunID    string
	Stage    receipt.Stage
	Fraction float64
}

// Observer receives progress events in order
type Observer interface {
	Observe(Progress)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Progress)

func (f ObserverFunc) Observe(p Progress) {
	f(p)
}

// stageFractions is the completion reported on entering each stage
var stageFractions = map[receipt.Stage]float64{
	receipt.StagePreparing:        0,
	receipt.StageExtracting:       0.1,
	receipt.StageBuildingDocument: 0.4,
	receipt.StageProvisioning:     0.55,
	receipt.StageUploading:        0.7,
	receipt.StageAppendingLedger:  0.85,
	receipt.StageComplete:         1,
}
