package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/florianilch/credcache/internal/entry"
)

const fileBackend = "file"

// FileStore persists the entry set as one JSON document with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	fs       afero.Fs
	filePath string
}

// Compile-time check to ensure FileStore implements TokenStore
var _ TokenStore = (*FileStore)(nil)

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFS sets the filesystem the store operates on. Defaults to the OS filesystem.
func WithFS(fs afero.Fs) FileOption {
	return func(f *FileStore) {
		f.fs = fs
	}
}

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist. A leading "~" is expanded.
func NewFileStore(filePath string, opts ...FileOption) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	expanded, err := homedir.Expand(filePath)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", filePath, err)
	}

	f := &FileStore{
		fs:       afero.NewOsFs(),
		filePath: expanded,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.fs.MkdirAll(filepath.Dir(f.filePath), 0700); err != nil {
		return nil, err
	}

	return f, nil
}

// Path returns the location of the document.
func (f *FileStore) Path() string {
	return f.filePath
}

// LoadEntries reads the document. A missing or blank file is an empty set;
// unparsable content or insecure permissions are a StorageReadError.
func (f *FileStore) LoadEntries(ctx context.Context) (entry.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check file permissions before reading
	info, err := f.fs.Stat(f.filePath)
	if os.IsNotExist(err) {
		return entry.Set{}, nil
	}
	if err != nil {
		return nil, readError(fileBackend, err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		return nil, readError(fileBackend, fmt.Errorf("%w on %s: %04o (expected 0600)", ErrInsecurePermissions, f.filePath, info.Mode().Perm()))
	}

	data, err := afero.ReadFile(f.fs, f.filePath)
	if os.IsNotExist(err) {
		// removed between Stat and ReadFile
		return entry.Set{}, nil
	}
	if err != nil {
		return nil, readError(fileBackend, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return entry.Set{}, nil
	}

	var entries entry.Set
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, readError(fileBackend, fmt.Errorf("parsing %s: %w", f.filePath, err))
	}
	if entries == nil {
		// document was a literal null
		entries = entry.Set{}
	}
	return entries, nil
}

// AddEntries implements TokenStore.
func (f *FileStore) AddEntries(ctx context.Context, newEntries, removeFirst entry.Set) error {
	return addEntries(ctx, f, newEntries, removeFirst)
}

// RemoveEntries implements TokenStore.
func (f *FileStore) RemoveEntries(ctx context.Context, _, toKeep entry.Set) error {
	return removeEntries(ctx, f, toKeep)
}

// Clear implements TokenStore.
func (f *FileStore) Clear(ctx context.Context) error {
	return f.saveEntries(ctx, entry.Set{})
}

// saveEntries atomically replaces the document using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) saveEntries(ctx context.Context, entries entry.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return writeError(fileBackend, fmt.Errorf("encoding entries: %w", err))
	}

	if err := f.writeAtomic(ctx, data); err != nil {
		return writeError(fileBackend, err)
	}
	return nil
}

func (f *FileStore) writeAtomic(ctx context.Context, data []byte) error {
	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := afero.TempFile(f.fs, dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = f.fs.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := f.fs.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return f.fs.Chmod(f.filePath, 0600)
}
