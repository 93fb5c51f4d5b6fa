package results

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kebairia/jujubackup/internal/fileutil"
)

var (
	// ErrNotFound indicates the results file does not exist.
	ErrNotFound = errors.New("results file not found")
	// ErrCorrupt indicates the results file is not a well-formed JSON object.
	ErrCorrupt = errors.New("results file is corrupt")
)

// Store persists the results document of the most recent run.
type Store struct {
	Path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Write overwrites the results file with doc.
func (s *Store) Write(doc *Document) error {
	data, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write results %q: %w", s.Path, err)
	}
	return nil
}

// Read loads the results file.
func (s *Store) Read() (*Document, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
		}
		return nil, fmt.Errorf("read results %q: %w", s.Path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path, err)
	}
	return doc, nil
}
