// Package storage keeps uploaded files on the local filesystem.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned for content that is not an accepted image.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrInvalidName is returned for names that would escape the store root.
	ErrInvalidName = errors.New("invalid file name")
)

// allowedTypes maps accepted content types to the extension files get.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// StoredFile describes a saved upload.
type StoredFile struct {
	Name     string
	Path     string
	URL      string
	Size     int64
	MimeType string
}

// LocalStore saves files under a root directory and serves them below a URL
// prefix.
type LocalStore struct {
	root      string
	urlPrefix string
	maxSize   int64
}

// NewLocalStore creates root if needed.
func NewLocalStore(root, urlPrefix string, maxSize int64) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{
		root:      root,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		maxSize:   maxSize,
	}, nil
}

// Root returns the directory files are stored in.
func (s *LocalStore) Root() string {
	return s.root
}

// Save stores r under dir with a generated name. The content type is sniffed
// from the first bytes; only images are accepted.
func (s *LocalStore) Save(dir string, r io.Reader) (*StoredFile, error) {
	if !validSegment(dir) {
		return nil, ErrInvalidName
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	mimeType := http.DetectContentType(head)
	ext, ok := allowedTypes[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	targetDir := filepath.Join(s.root, dir)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	name := uuid.NewString() + ext
	target := filepath.Join(targetDir, name)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	// One byte past the limit is enough to detect an oversized upload.
	limited := io.LimitReader(io.MultiReader(bytes.NewReader(head), r), s.maxSize+1)
	size, copyErr := io.Copy(f, limited)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(target)
		return nil, fmt.Errorf("failed to write file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(target)
		return nil, fmt.Errorf("failed to write file: %w", closeErr)
	case size > s.maxSize:
		_ = os.Remove(target)
		return nil, ErrFileTooLarge
	}

	return &StoredFile{
		Name:     name,
		Path:     target,
		URL:      path.Join(s.urlPrefix, dir, name),
		Size:     size,
		MimeType: mimeType,
	}, nil
}

// Delete removes a stored file by the URL Save returned. Missing files are
// not an error.
func (s *LocalStore) Delete(url string) error {
	rel := strings.TrimPrefix(url, s.urlPrefix+"/")
	if rel == url || strings.Contains(rel, "..") {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
