package images

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

// ErrNoImage means the requested asset is not on disk; the renderer falls
// back to its placeholder.
var ErrNoImage = errors.New("image not cached")

// Server reads cached image files for HTTP serving, with an LRU of decoded
// bytes in front of the disk so the catalog grid does not re-read covers on
// every render.
type Server struct {
	root   string
	cache  *lru.Cache[string, []byte]
	logger zerolog.Logger
}

func NewServer(root string, cacheSize int, logger zerolog.Logger) (*Server, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{root: root, cache: cache, logger: logger}, nil
}

// Cover returns the cover image bytes for a work.
func (s *Server) Cover(id library.WorkID) ([]byte, error) {
	return s.read(filepath.Join(string(id), CoverFileName))
}

// Sample returns the n-th (1-based) sample image bytes for a work.
func (s *Server) Sample(id library.WorkID, n int) ([]byte, error) {
	if n < 1 {
		return nil, ErrNoImage
	}
	return s.read(filepath.Join(string(id), fmt.Sprintf(sampleFilePattern, n)))
}

// Invalidate drops a work's images from the in-memory cache; called after
// its asset directory is purged.
func (s *Server) Invalidate(id library.WorkID) {
	prefix := string(id) + string(filepath.Separator)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

func (s *Server) read(rel string) ([]byte, error) {
	if data, ok := s.cache.Get(rel); ok {
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoImage
		}
		return nil, err
	}

	s.cache.Add(rel, data)
	return data, nil
}
