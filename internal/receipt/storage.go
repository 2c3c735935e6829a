package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Storage defines the interface for local document storage. Documents live
// under a directory named after their month.
type Storage interface {
	// Save writes data under month and returns its relative path
	Save(month, filename string, data []byte) (string, error)

	// Get retrieves a file by relative path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error

	// Months lists month directories, newest name first
	Months() ([]string, error)

	// List returns the files stored under month, newest first
	List(month string) ([]StoredFile, error)

	// Path returns the absolute location of a relative path
	Path(rel string) (string, error)
}

// StoredFile describes one document on disk
type StoredFile struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// maxNameSuffix bounds the search for a free file name
const maxNameSuffix = 1000

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes data to <base>/<month>/<filename>. An existing file is never
// overwritten; a numeric suffix is added instead.
func (l *LocalStorage) Save(month, filename string, data []byte) (string, error) {
	month = sanitizeDirName(month)
	dir := filepath.Join(l.basePath, month)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating month directory: %w", err)
	}

	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for n := 0; n < maxNameSuffix; n++ {
		name := filename
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("writing file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("writing file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("writing file: %w", err)
		}
		return filepath.ToSlash(filepath.Join(month, name)), nil
	}
	return "", fmt.Errorf("writing file: no free name for %s", filename)
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath, err := l.Path(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath, err := l.Path(path)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Months lists the month directories in descending name order
func (l *LocalStorage) Months() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing months: %w", err)
	}
	months := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			months = append(months, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

// List returns the PDF documents under month, most recently modified first
func (l *LocalStorage) List(month string) ([]StoredFile, error) {
	dir, err := l.Path(month)
	if err != nil {
		return nil, fmt.Errorf("listing month: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing month: %w", err)
	}
	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("listing month: %w", err)
		}
		files = append(files, StoredFile{
			Name:       e.Name(),
			Path:       filepath.ToSlash(filepath.Join(month, e.Name())),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// Path resolves rel inside the storage root, rejecting escapes
func (l *LocalStorage) Path(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid path %q", ErrMalformed, rel)
	}
	return filepath.Join(l.basePath, clean), nil
}

func sanitizeDirName(name string) string {
	name = strings.TrimSpace(strings.NewReplacer("/", "-", "\\", "-").Replace(name))
	if name == "" || name == "." || name == ".." {
		return "Unsorted"
	}
	return name
}
