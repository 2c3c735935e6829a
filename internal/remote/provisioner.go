package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// Location identifies where one period's documents and ledger live
type Location struct {
	RootID        string
	MonthFolderID string
	LedgerID      string
}

// Provisioner finds or creates the remote folder path and ledger. Every
// Ensure call is idempotent against unchanged remote state.
type Provisioner struct {
	folders FolderAPI
	sheets  SheetsAPI
	cache   LocationCache
	tokens  TokenProvider
	locale  receipt.Locale
	logger  *slog.Logger
}

// NewProvisioner creates a Provisioner. A nil cache disables caching.
func NewProvisioner(folders FolderAPI, sheets SheetsAPI, cache LocationCache, tokens TokenProvider, locale receipt.Locale, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		folders: folders,
		sheets:  sheets,
		cache:   cache,
		tokens:  tokens,
		locale:  locale,
		logger:  logger.With("component", "provisioner"),
	}
}

// Resolve ensures root folder, month folder and ledger for period, in that order
func (p *Provisioner) Resolve(ctx context.Context, rootName string, period receipt.Period) (Location, error) {
	var loc Location
	var err error

	if loc.RootID, err = p.EnsureFolder(ctx, rootName, ""); err != nil {
		return Location{}, fmt.Errorf("ensuring root folder: %w", err)
	}
	if loc.MonthFolderID, err = p.EnsureFolder(ctx, p.locale.MonthName(period), loc.RootID); err != nil {
		return Location{}, fmt.Errorf("ensuring month folder: %w", err)
	}
	if loc.LedgerID, err = p.EnsureLedger(ctx, loc.MonthFolderID, period); err != nil {
		return Location{}, fmt.Errorf("ensuring ledger: %w", err)
	}
	return loc, nil
}

// EnsureFolder returns the id of folder name under parentID, creating it if
// absent. An empty parentID means the top level.
func (p *Provisioner) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	if err := authenticated(p.tokens); err != nil {
		return "", err
	}
	return p.ensure(ctx, ensureSpec{
		key:      fmt.Sprintf("folder:%s/%s", parentOrRoot(parentID), name),
		name:     name,
		parentID: parentID,
		mimeType: FolderMimeType,
	})
}

// EnsureLedger returns the id of the period's ledger under parentID. A newly
// created ledger gets its header row and formatting exactly once.
func (p *Provisioner) EnsureLedger(ctx context.Context, parentID string, period receipt.Period) (string, error) {
	if err := authenticated(p.tokens); err != nil {
		return "", err
	}
	return p.ensure(ctx, ensureSpec{
		key:        fmt.Sprintf("ledger:%s/%s", parentOrRoot(parentID), period.Key()),
		name:       period.LedgerTitle(),
		parentID:   parentID,
		mimeType:   SpreadsheetMimeType,
		initialize: p.initializeLedger,
		repair:     p.repairLedger,
	})
}

type ensureSpec struct {
	key        string
	name       string
	parentID   string
	mimeType   string
	initialize func(ctx context.Context, id string) error
	// repair runs on an object found by query, before it is cached
	repair     func(ctx context.Context, id string) error
}

// ensure revalidates a cached id, then queries, then creates
func (p *Provisioner) ensure(ctx context.Context, spec ensureSpec) (string, error) {
	if id, ok := p.cached(ctx, spec.key); ok {
		return id, nil
	}

	id, found, err := p.folders.FindChild(ctx, spec.name, spec.parentID, spec.mimeType)
	if err != nil {
		return "", err
	}
	if found {
		if spec.repair != nil {
			if err := spec.repair(ctx, id); err != nil {
				return "", fmt.Errorf("initializing %s: %w", spec.name, err)
			}
		}
		p.remember(spec.key, id)
		return id, nil
	}

	id, err = p.folders.CreateChild(ctx, spec.name, spec.parentID, spec.mimeType)
	if errors.Is(err, receipt.ErrAlreadyExists) {
		// Lost a creation race; the winner's object is the one to use
		p.logger.Warn("Create conflict, querying again", "name", spec.name)
		id, found, err = p.folders.FindChild(ctx, spec.name, spec.parentID, spec.mimeType)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("%w: %w: %s reported existing but not found", ErrRequestFailed, receipt.ErrNotFound, spec.name)
		}
		p.remember(spec.key, id)
		return id, nil
	}
	if err != nil {
		return "", err
	}

	if spec.initialize != nil {
		if err := spec.initialize(ctx, id); err != nil {
			return "", fmt.Errorf("initializing %s: %w", spec.name, err)
		}
	}
	p.remember(spec.key, id)
	return id, nil
}

// cached returns a cached id that still exists remotely. A stale entry is
// dropped so the caller falls through to query-then-create.
func (p *Provisioner) cached(ctx context.Context, key string) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	id, ok, err := p.cache.Get(key)
	if err != nil {
		p.logger.Warn("Failed to read location cache", "key", key, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}

	exists, err := p.folders.Exists(ctx, id)
	if err != nil {
		p.logger.Warn("Failed to revalidate cached id", "key", key, "id", id, "error", err)
		return "", false
	}
	if exists {
		return id, true
	}

	p.logger.Info("Cached id no longer exists, discarding", "key", key, "id", id)
	if err := p.cache.Delete(key); err != nil {
		p.logger.Warn("Failed to delete stale cache entry", "key", key, "error", err)
	}
	return "", false
}

func (p *Provisioner) remember(key, id string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Put(key, id); err != nil {
		p.logger.Warn("Failed to write location cache", "key", key, "error", err)
	}
}

func (p *Provisioner) initializeLedger(ctx context.Context, id string) error {
	if err := p.sheets.WriteHeader(ctx, id, p.locale.HeaderRow()); err != nil {
		return err
	}
	return p.sheets.Format(ctx, id)
}

// repairLedger initializes a ledger left without a header by an earlier
// failed initialization
func (p *Provisioner) repairLedger(ctx context.Context, id string) error {
	ok, err := p.sheets.HasHeader(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	p.logger.Warn("Existing ledger has no header, initializing", "id", id)
	return p.initializeLedger(ctx, id)
}
