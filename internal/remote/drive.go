package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Drive mime types
const (
	FolderMimeType      = "application/vnd.google-apps.folder"
	SpreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
)

// driveRoot is the alias Drive accepts for the user's top level folder
const driveRoot = "root"

// FolderAPI is the remote folder hierarchy
type FolderAPI interface {
	// FindChild returns the id of a non-trashed child named name with the
	// given mime type, or false when none exists
	FindChild(ctx context.Context, name, parentID, mimeType string) (string, bool, error)
	// CreateChild creates a child object and returns its id
	CreateChild(ctx context.Context, name, parentID, mimeType string) (string, error)
	// Exists reports whether id still refers to a non-trashed object
	Exists(ctx context.Context, id string) (bool, error)
}

// DriveFolders implements FolderAPI with the Drive v3 API
type DriveFolders struct {
	srv    *drive.Service
	logger *slog.Logger
}

// NewDriveFolders creates a Drive client authorized by tokens
func NewDriveFolders(ctx context.Context, tokens TokenProvider, opts ...option.ClientOption) (*DriveFolders, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(TokenSource(ctx, tokens))}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return NewDriveFoldersWithService(srv, nil), nil
}

// NewDriveFoldersWithService wraps an existing service for testing
func NewDriveFoldersWithService(srv *drive.Service, logger *slog.Logger) *DriveFolders {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveFolders{srv: srv, logger: logger.With("component", "drive")}
}

// FindChild queries by exact name, parent and mime type
func (d *DriveFolders) FindChild(ctx context.Context, name, parentID, mimeType string) (string, bool, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentOrRoot(parentID)), mimeType)

	list, err := d.srv.Files.List().Q(q).Fields("files(id, name)").Spaces("drive").Context(ctx).Do()
	if err != nil {
		return "", false, apiError(ErrRequestFailed, ErrNotAuthenticated, "querying "+name, err)
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	if len(list.Files) > 1 {
		d.logger.Warn("Multiple remote objects share a name, using the first",
			"name", name,
			"parent", parentID,
			"count", len(list.Files),
		)
	}
	return list.Files[0].Id, true, nil
}

// CreateChild creates a folder or an empty Google file under parentID
func (d *DriveFolders) CreateChild(ctx context.Context, name, parentID, mimeType string) (string, error) {
	file := &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentOrRoot(parentID)},
	}
	created, err := d.srv.Files.Create(file).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", apiError(ErrRequestFailed, ErrNotAuthenticated, "creating "+name, err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("%w: created %s without an id", ErrInvalidResponse, name)
	}
	d.logger.Info("Created remote object", "name", name, "id", created.Id, "mime_type", mimeType)
	return created.Id, nil
}

// Exists fetches id's trashed flag. A missing object is not an error.
func (d *DriveFolders) Exists(ctx context.Context, id string) (bool, error) {
	file, err := d.srv.Files.Get(id).Fields("id, trashed").Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return false, nil
		}
		return false, apiError(ErrRequestFailed, ErrNotAuthenticated, "checking "+id, err)
	}
	return !file.Trashed, nil
}

func parentOrRoot(parentID string) string {
	if parentID == "" {
		return driveRoot
	}
	return parentID
}

// escapeQuery quotes a value for a Drive query string literal
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
