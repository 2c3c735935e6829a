// Package pipeline sequences one receipt through extraction, local storage
// and remote sync.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-vault/internal/receipt"
	"github.com/zombor/receipt-vault/internal/remote"
	"github.com/zombor/receipt-vault/internal/scanning"
)

// Extractor reads fields from a receipt image
type Extractor interface {
	Extract(ctx context.Context, img receipt.Image) (receipt.Fields, error)
}

// Provisioner resolves the remote folder and ledger for a period
type Provisioner interface {
	Resolve(ctx context.Context, rootName string, period receipt.Period) (remote.Location, error)
}

// Uploader pushes a document into a remote folder
type Uploader interface {
	Upload(ctx context.Context, folderID, name string, payload io.Reader, size int64, contentType string) (string, error)
}

// Appender adds a record to a remote ledger
type Appender interface {
	Append(ctx context.Context, ledgerID string, fields receipt.Fields) error
}

// Workbook mirrors ledger rows locally
type Workbook interface {
	Append(path string, fields receipt.Fields) error
}

// IDGenerator generates run ids
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Config tunes a pipeline
type Config struct {
	// RootFolder is the top level remote folder name
	RootFolder string
	Locale     receipt.Locale
	// UploadAttempts bounds how often a transient upload failure reruns
	// both upload phases
	UploadAttempts int
	UploadBackoff  time.Duration
	// RequireExtraction turns credential and malformed-response extraction
	// failures into failed runs
	RequireExtraction bool
}

func (c Config) withDefaults() Config {
	if c.RootFolder == "" {
		c.RootFolder = "ReceiptVault"
	}
	if c.Locale.Name == "" {
		c.Locale = receipt.English
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = 2
	}
	if c.UploadBackoff <= 0 {
		c.UploadBackoff = time.Second
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Tokens, Provisioner,
// Uploader and Appender are all required for remote sync; Workbook and
// Observer are optional.
type Deps struct {
	Extractor   Extractor
	Storage     receipt.Storage
	Tokens      remote.TokenProvider
	Provisioner Provisioner
	Uploader    Uploader
	Appender    Appender
	Workbook    Workbook
	Observer    Observer
}

// Orchestrator runs receipts through the pipeline one at a time. Runs
// from concurrent callers are serialized so provisioning never races
// itself into duplicate remote objects.
type Orchestrator struct {
	mu sync.Mutex

	cfg   Config
	deps  Deps
	build func(receipt.Image) (receipt.Document, error)
	clock scanning.Clock
	ids   IDGenerator

	logger *slog.Logger
}

// New creates an Orchestrator with the wall clock and uuid run ids
func New(cfg Config, deps Deps) *Orchestrator {
	return NewWithDeps(cfg, deps, receipt.BuildDocument, scanning.SystemClock{}, uuidGenerator{}, nil)
}

// NewWithDeps creates an Orchestrator with custom dependencies for testing
func NewWithDeps(cfg Config, deps Deps, build func(receipt.Image) (receipt.Document, error), clock scanning.Clock, ids IDGenerator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		build:  build,
		clock:  clock,
		ids:    ids,
		logger: logger.With("component", "pipeline"),
	}
}

// run carries the state of one pipeline run
type run struct {
	o        *Orchestrator
	logger   *slog.Logger
	diag     *receipt.Diagnostics
	result   Result
	fraction float64
}

func (r *run) advance(stage receipt.Stage) {
	r.result.Stage = stage
	if f, ok := stageFractions[stage]; ok && f > r.fraction {
		r.fraction = f
	}
	r.logger.Debug("Stage", "stage", stage.String(), "fraction", r.fraction)
	if r.o.deps.Observer != nil {
		r.o.deps.Observer.Observe(Progress{RunID: r.result.RunID, Stage: stage, Fraction: r.fraction})
	}
}

func (r *run) fail(err error) (Result, error) {
	r.result.Err = err
	r.result.Outcome = OutcomeNone
	r.result.Notes = r.diag.Notes()
	r.logger.Error("Run failed", "stage", r.result.Stage.String(), "error", err)
	r.advance(receipt.StageFailed)
	return r.result, err
}

func (r *run) complete(outcome Outcome) (Result, error) {
	r.result.Outcome = outcome
	r.result.Notes = r.diag.Notes()
	r.advance(receipt.StageComplete)
	r.logger.Info("Run complete", "outcome", outcome.String(), "path", r.result.LocalPath)
	return r.result, nil
}

// partial completes a run whose document is stored locally but whose
// remote sync stopped at the current stage
func (r *run) partial(err error) (Result, error) {
	r.result.WarningStage = r.result.Stage
	r.result.Warning = err
	r.logger.Warn("Remote sync incomplete", "stage", r.result.Stage.String(), "error", err)
	return r.complete(LocalWithRemoteWarning)
}

// Run processes one image. The returned error is non-nil only when the run
// Failed; partial remote failures are reported through Result.
func (o *Orchestrator) Run(ctx context.Context, img receipt.Image) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.process(ctx, img)
}

func (o *Orchestrator) process(ctx context.Context, img receipt.Image) (Result, error) {
	runID := o.ids.Generate()
	r := &run{
		o:      o,
		logger: o.logger.With("run_id", runID),
		diag:   &receipt.Diagnostics{},
		result: Result{RunID: runID},
	}
	ctx = receipt.WithDiagnostics(ctx, r.diag)

	r.advance(receipt.StagePreparing)
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}

	r.advance(receipt.StageExtracting)
	fields, err := o.extract(ctx, r, img)
	if err != nil {
		return r.fail(err)
	}
	r.result.Fields = fields
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}

	r.advance(receipt.StageBuildingDocument)
	doc, err := o.build(img)
	if err != nil {
		return r.fail(fmt.Errorf("building document: %w", err))
	}

	now := o.clock.Now()
	period, dated := receipt.PeriodFor(fields, now)
	if !dated {
		r.diag.Add(fmt.Sprintf("date %q not recognized; filed under current month", fields.Get(receipt.FieldDate)))
	}
	r.result.Period = period

	name := receipt.DocumentName(fields.Get(receipt.FieldMerchant), now)
	localPath, err := o.deps.Storage.Save(o.cfg.Locale.MonthName(period), name, doc.Data)
	if err != nil {
		return r.fail(fmt.Errorf("saving document locally: %w", err))
	}
	r.result.LocalPath = localPath
	r.logger.Info("Saved document locally", "path", localPath, "size", len(doc.Data))

	o.mirror(r, localPath, period, fields)

	if !o.remoteEnabled() {
		return r.complete(LocalOnly)
	}
	if err := ctx.Err(); err != nil {
		return r.partial(err)
	}

	r.advance(receipt.StageProvisioning)
	loc, err := o.deps.Provisioner.Resolve(ctx, o.cfg.RootFolder, period)
	if err != nil {
		return r.partial(fmt.Errorf("provisioning: %w", err))
	}
	r.result.Location = loc
	if err := ctx.Err(); err != nil {
		return r.partial(err)
	}

	r.advance(receipt.StageUploading)
	fileID, err := o.upload(ctx, r, loc.MonthFolderID, path.Base(localPath), doc.Data)
	if err != nil {
		return r.partial(fmt.Errorf("uploading: %w", err))
	}
	r.result.RemoteFileID = fileID
	if err := ctx.Err(); err != nil {
		return r.partial(err)
	}

	r.advance(receipt.StageAppendingLedger)
	if err := o.deps.Appender.Append(ctx, loc.LedgerID, fields); err != nil {
		return r.partial(fmt.Errorf("appending ledger row: %w", err))
	}

	return r.complete(LocalAndRemote)
}

// RunAll processes images one at a time, in order. Every image gets its own
// run; a failed run does not stop the batch. Cancellation stops before the
// next image.
func (o *Orchestrator) RunAll(ctx context.Context, images []receipt.Image) ([]Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]Result, 0, len(images))
	var errs []error
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("stopped before image %d of %d: %w", i+1, len(images), err))
			break
		}
		res, err := o.process(ctx, img)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("image %d: %w", i+1, err))
		}
	}
	return results, errors.Join(errs...)
}

// extract degrades an extraction failure to an empty record dated today,
// unless the failure must stop the run
func (o *Orchestrator) extract(ctx context.Context, r *run, img receipt.Image) (receipt.Fields, error) {
	fields, err := o.deps.Extractor.Extract(ctx, img)
	if err == nil {
		return receipt.FieldsFrom(fields), nil
	}

	if o.cfg.RequireExtraction && (errors.Is(err, receipt.ErrAuth) || errors.Is(err, receipt.ErrMalformed)) {
		return nil, fmt.Errorf("extracting fields: %w", err)
	}

	r.logger.Warn("Extraction failed, continuing with an empty record", "error", err)
	r.diag.Add(fmt.Sprintf("extraction failed: %v", err))
	fields = receipt.NewFields()
	fields[receipt.FieldDate] = o.clock.Now().Format(receipt.DateLayout)
	return fields, nil
}

// mirror appends the record to the local workbook; failure only warns
func (o *Orchestrator) mirror(r *run, localPath string, period receipt.Period, fields receipt.Fields) {
	if o.deps.Workbook == nil {
		return
	}
	target, err := o.deps.Storage.Path(path.Join(path.Dir(localPath), period.LedgerTitle()+".xlsx"))
	if err == nil {
		err = o.deps.Workbook.Append(target, fields)
	}
	if err != nil {
		r.logger.Warn("Failed to update local workbook", "error", err)
		r.diag.Add(fmt.Sprintf("local workbook not updated: %v", err))
	}
}

func (o *Orchestrator) remoteEnabled() bool {
	d := o.deps
	if d.Provisioner == nil || d.Uploader == nil || d.Appender == nil || d.Tokens == nil {
		return false
	}
	return d.Tokens.Valid()
}

// upload retries transient failures from scratch; a session cannot be reused
func (o *Orchestrator) upload(ctx context.Context, r *run, folderID, name string, data []byte) (string, error) {
	var err error
	for attempt := 1; attempt <= o.cfg.UploadAttempts; attempt++ {
		if attempt > 1 {
			backoff := o.cfg.UploadBackoff << (attempt - 2)
			r.logger.Warn("Upload failed, retrying", "attempt", attempt, "backoff", backoff.String(), "error", err)
			if sleepErr := o.clock.Sleep(ctx, backoff); sleepErr != nil {
				return "", fmt.Errorf("waiting to retry upload: %w", sleepErr)
			}
		}

		var id string
		id, err = o.deps.Uploader.Upload(ctx, folderID, name, bytes.NewReader(data), int64(len(data)), receipt.DocumentContentType)
		if err == nil {
			return id, nil
		}
		if !receipt.IsTransient(err) {
			return "", err
		}
	}
	return "", err
}
