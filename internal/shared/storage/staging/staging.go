// Package staging keeps rendered documents on local durable storage until they
// have been uploaded to the blob store.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates there is no staged document at the requested path.
var ErrNotFound = errors.New("staged document not found")

// Area is a directory holding staged documents as {root}/{invoiceId}.pdf.
type Area struct {
	root string
}

// New creates a staging area rooted at root. The directory is created lazily on first write.
func New(root string) *Area {
	return &Area{root: root}
}

// Root returns the staging root directory.
func (a *Area) Root() string {
	return a.root
}

// PathFor returns the deterministic staging path for an invoice id.
func (a *Area) PathFor(invoiceID string) string {
	return filepath.Join(a.root, invoiceID+".pdf")
}

// Write stores data at the staging path for invoiceID and returns that path.
// The write goes through a temp file and rename so a crash never leaves a partial document.
func (a *Area) Write(ctx context.Context, invoiceID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(invoiceID) == "" || strings.ContainsAny(invoiceID, `/\`) {
		return "", fmt.Errorf("invalid invoice id %q", invoiceID)
	}

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	path := a.PathFor(invoiceID)
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return path, nil
}

// Read returns the bytes of a staged document.
func (a *Area) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read staged document: %w", err)
	}
	return data, nil
}

// Remove deletes a staged document. Removing a missing document is not an error.
func (a *Area) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged document: %w", err)
	}
	return nil
}

// Exists reports whether a staged document is present at path.
func (a *Area) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
