package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// DefaultUploadBaseURL is the Drive upload host
const DefaultUploadBaseURL = "https://www.googleapis.com"

const defaultUploadTimeout = 30 * time.Second

// Uploader pushes a document to a folder with the two-phase resumable
// protocol: open a session with the metadata, then PUT the whole payload
// to the session URI. Sessions are single use so retries belong to the caller.
type Uploader struct {
	client  *http.Client
	tokens  TokenProvider
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewUploader creates an Uploader against the Drive upload endpoint
func NewUploader(tokens TokenProvider) *Uploader {
	return NewUploaderWithDeps(tokens, &http.Client{}, DefaultUploadBaseURL, nil)
}

// NewUploaderWithDeps creates an Uploader with custom dependencies for testing
func NewUploaderWithDeps(tokens TokenProvider, client *http.Client, baseURL string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		client:  client,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultUploadTimeout,
		logger:  logger.With("component", "uploader"),
	}
}

// Upload creates name in folderID with size bytes read from payload and
// returns the new file id
func (u *Uploader) Upload(ctx context.Context, folderID, name string, payload io.Reader, size int64, contentType string) (string, error) {
	if err := authenticated(u.tokens); err != nil {
		return "", err
	}
	token, err := u.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	session, err := u.initiate(ctx, token, folderID, name, size, contentType)
	if err != nil {
		return "", err
	}
	u.logger.Debug("Opened upload session", "name", name, "size", size)

	id, err := u.transfer(ctx, token, session, payload, size, contentType)
	if err != nil {
		return "", err
	}
	u.logger.Info("Uploaded document", "name", name, "id", id, "size", size)
	return id, nil
}

// initiate posts the file metadata and returns the session URI
func (u *Uploader) initiate(ctx context.Context, token, folderID, name string, size int64, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	metadata, err := json.Marshal(&drive.File{
		Name:     name,
		MimeType: contentType,
		Parents:  []string{folderID},
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding metadata: %w", ErrUploadInitiationFailed, err)
	}

	url := u.baseURL + "/upload/drive/v3/files?uploadType=resumable"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(metadata))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %w", ErrUploadInitiationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", contentType)
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrUploadInitiationFailed, receipt.ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(ErrUploadInitiationFailed, "initiate", resp.StatusCode)
	}

	session := resp.Header.Get("Location")
	if session == "" {
		return "", fmt.Errorf("%w: %w: missing session location", ErrUploadInitiationFailed, receipt.ErrMalformed)
	}
	return session, nil
}

// transfer sends the whole payload in one PUT
func (u *Uploader) transfer(ctx context.Context, token, session string, payload io.Reader, size int64, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session, payload)
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %w", ErrUploadFailed, err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrUploadFailed, receipt.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return "", statusError(ErrUploadFailed, "upload", resp.StatusCode)
	}

	// The id is informational; a body we cannot read does not fail the upload
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		u.logger.Debug("Upload response had no readable id", "error", err)
	}
	return created.ID, nil
}

func statusError(component error, op string, code int) error {
	if class := receipt.ClassifyStatus(code); class != nil {
		return fmt.Errorf("%w: %w: %s status %d", component, class, op, code)
	}
	return fmt.Errorf("%w: %s status %d", component, op, code)
}
