package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrSourceNotFound is returned by a Source when the policy document does not exist.
var ErrSourceNotFound = errors.New("policy source not found")

// Source is an external, mutable location holding the policy document.
//
// Stat must be cheap (metadata only): the engine calls it on every evaluation
// and only calls Read when the returned fingerprint changes.
type Source interface {
	// Stat returns a fingerprint that changes whenever the content changes.
	Stat(ctx context.Context) (string, error)
	// Read returns the full document content.
	Read(ctx context.Context) ([]byte, error)
	// Describe identifies the source for status output and logs.
	Describe() string
}

// FileSource reads the policy document from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource creates a Source for the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the watched file path.
func (s *FileSource) Path() string { return s.path }

// Stat fingerprints the file by modification time and size.
func (s *FileSource) Stat(_ context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrSourceNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", s.path)
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size()), nil
}

// Read returns the file content.
func (s *FileSource) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	return data, nil
}

// Describe implements Source.
func (s *FileSource) Describe() string { return "file:" + s.path }
