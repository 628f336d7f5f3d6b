package library

import (
	"regexp"
	"time"
)

// WorkID identifies a work: two uppercase letters followed by 6-9 digits
// (e.g. RJ123456). It names both the library subdirectory and the cache key.
type WorkID string

var workIDPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{6,9}$`)

// ParseWorkID validates s as a work ID.
func ParseWorkID(s string) (WorkID, bool) {
	if !workIDPattern.MatchString(s) {
		return "", false
	}
	return WorkID(s), true
}

// ReleaseDateUnknown is the sentinel stored when a work page carries no
// parseable release date.
const ReleaseDateUnknown = "unknown"

// Metadata holds the descriptive fields returned by a metadata fetch.
type Metadata struct {
	Title       string            `json:"title,omitempty"`
	Circle      string            `json:"circle,omitempty"`
	Category    string            `json:"category,omitempty"`
	Genres      []string          `json:"genres,omitempty"`
	ReleaseDate string            `json:"releaseDate,omitempty"`
	Publisher   string            `json:"publisher,omitempty"`
	Series      string            `json:"series,omitempty"`
	Language    string            `json:"language,omitempty"`
	FileSize    string            `json:"fileSize,omitempty"`
	Credits     map[string]string `json:"credits,omitempty"`
	Description string            `json:"description,omitempty"`

	CoverURL   string   `json:"coverUrl,omitempty"`
	SampleURLs []string `json:"sampleUrls,omitempty"`
}

// WorkRecord is the cached entity for a single work. The JSON shape is the
// on-disk cache document schema; zero values are omitted so the document
// stays readable.
type WorkRecord struct {
	WorkID      WorkID            `json:"workId"`
	Title       string            `json:"title,omitempty"`
	Circle      string            `json:"circle,omitempty"`
	Category    string            `json:"category,omitempty"`
	Genres      []string          `json:"genres,omitempty"`
	ReleaseDate string            `json:"releaseDate,omitempty"`
	Publisher   string            `json:"publisher,omitempty"`
	Series      string            `json:"series,omitempty"`
	Language    string            `json:"language,omitempty"`
	FileSize    string            `json:"fileSize,omitempty"`
	Credits     map[string]string `json:"credits,omitempty"`
	Description string            `json:"description,omitempty"`

	// Relative paths under the asset root, empty until images download.
	CoverImage   string   `json:"coverImage,omitempty"`
	SampleImages []string `json:"sampleImages,omitempty"`

	Rating     int      `json:"rating,omitempty"`     // 0-5, user set
	CustomTags []string `json:"customTags,omitempty"` // order preserved

	TotalPlayTimeSeconds int64      `json:"totalPlayTimeSeconds,omitempty"`
	LastPlayedAt         *time.Time `json:"lastPlayedAt,omitempty"`
	AddedAt              *time.Time `json:"addedAt,omitempty"`

	FetchFailed        bool       `json:"fetchFailed,omitempty"`
	LastFetchError     string     `json:"lastFetchError,omitempty"`
	LastFetchAttemptAt *time.Time `json:"lastFetchAttemptAt,omitempty"`
}

// FetchState classifies a record's metadata resolution.
type FetchState int

const (
	// StateUnresolved means no record exists yet; a scan cycle will fetch it.
	StateUnresolved FetchState = iota
	// StateResolved means metadata was fetched successfully.
	StateResolved
	// StateFailed means the last fetch failed; the record is degraded and is
	// not retried until the user deletes it (Failed -> Unresolved).
	StateFailed
)

func (s FetchState) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unresolved"
	}
}

// FetchState reports the record's place in the resolution state machine.
// A nil record is Unresolved.
func (r *WorkRecord) FetchState() FetchState {
	switch {
	case r == nil:
		return StateUnresolved
	case r.FetchFailed:
		return StateFailed
	default:
		return StateResolved
	}
}

// DisplayTitle returns the title, falling back to the work ID when metadata
// never resolved.
func (r *WorkRecord) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return string(r.WorkID)
}

// ApplyMetadata merges fetched fields into the record and clears any
// previous failure marker.
func (r *WorkRecord) ApplyMetadata(m *Metadata) {
	r.Title = m.Title
	r.Circle = m.Circle
	r.Category = m.Category
	r.Genres = m.Genres
	r.ReleaseDate = m.ReleaseDate
	r.Publisher = m.Publisher
	r.Series = m.Series
	r.Language = m.Language
	r.FileSize = m.FileSize
	r.Credits = m.Credits
	r.Description = m.Description
	r.FetchFailed = false
	r.LastFetchError = ""
}
