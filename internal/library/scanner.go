package library

import (
	"errors"
	"os"
	"sort"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured means no library root has been set.
	ErrNotConfigured = errors.New("library root not configured")
	// ErrRootMissing means the configured library root does not exist.
	ErrRootMissing = errors.New("library root does not exist")
)

// Scanner lists the work directories present under the library root.
type Scanner struct {
	logger zerolog.Logger
}

func NewScanner(logger zerolog.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// ListWorkIDs returns the IDs of all subdirectories of root whose names
// match the work-ID pattern, sorted. Non-matching entries and plain files
// are skipped; the library folder is allowed to hold arbitrary clutter.
func (s *Scanner) ListWorkIDs(root string) ([]WorkID, error) {
	if root == "" {
		return nil, ErrNotConfigured
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRootMissing
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrRootMissing
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var ids []WorkID
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := ParseWorkID(entry.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s.logger.Debug().
		Str("root", root).
		Int("works", len(ids)).
		Msg("library scanned")

	return ids, nil
}
