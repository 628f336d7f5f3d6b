package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

// Settings is the user-facing configuration persisted as a single JSON
// document. Keys the document is missing acquire defaults on load, so new
// fields added later pick up their defaults transparently.
type Settings struct {
	// DestinationFolder is the library root holding one directory per work.
	// Empty means not configured.
	DestinationFolder string `json:"destinationFolder"`
	// RefreshRate is the auto-refresh interval in minutes; 0 disables it.
	RefreshRate int `json:"refreshRate"`
	// Language is the metadata fetch locale, e.g. "en_US".
	Language string `json:"language"`
	// SelectedSort is the catalog sort key (library.Sort* values).
	SelectedSort string `json:"selectedSort"`
}

// DefaultSettings are applied for any key absent from the document.
func DefaultSettings() Settings {
	return Settings{
		DestinationFolder: "",
		RefreshRate:       5,
		Language:          "en_US",
		SelectedSort:      library.SortNameAsc,
	}
}

// SettingsStore persists Settings at a fixed path.
type SettingsStore struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	current Settings
}

// OpenSettings loads the settings document, writing one with defaults if it
// is missing or corrupt.
func OpenSettings(path string, logger zerolog.Logger) (*SettingsStore, error) {
	s := &SettingsStore{path: path, logger: logger, current: DefaultSettings()}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		// Unmarshal over the defaults so missing keys keep them.
		cfg := DefaultSettings()
		if err := json.Unmarshal(data, &cfg); err != nil {
			logger.Error().Err(err).Str("path", path).
				Msg("settings document corrupt, resetting to defaults")
			cfg = DefaultSettings()
			s.current = cfg
			if err := s.flushLocked(); err != nil {
				return nil, err
			}
		} else {
			if cfg.SelectedSort == "" {
				cfg.SelectedSort = library.SortNameAsc
			}
			if cfg.Language == "" {
				cfg.Language = "en_US"
			}
			s.current = cfg
		}
	}

	return s, nil
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Save replaces the settings wholesale and persists. On write failure the
// in-memory settings keep the new value so the session does not lose the
// edit; the error is returned for the caller to surface.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = settings
	return s.flushLocked()
}

// Update applies a mutation to the current settings and persists.
func (s *SettingsStore) Update(apply func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.current)
	return s.flushLocked()
}

func (s *SettingsStore) flushLocked() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("settings flush failed")
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("settings flush failed")
		return err
	}
	return nil
}
