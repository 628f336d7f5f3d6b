package library

import (
	"sort"
	"strings"
	"time"
)

// Sort keys accepted by FilterSpec. The values are what the settings
// document and the API use on the wire.
const (
	SortNameAsc     = "name-asc"
	SortNameDesc    = "name-desc"
	SortLastPlayed  = "last-played"
	SortLastAdded   = "last-added"
	SortReleaseAsc  = "release-date-asc"
	SortReleaseDesc = "release-date-desc"
)

// CategoryAll disables category filtering.
const CategoryAll = "all"

// FilterSpec describes one catalog query. It is ephemeral and never
// persisted; the zero value plus CategoryAll and SortNameAsc is the default
// view.
type FilterSpec struct {
	CategoryCode   string
	SelectedGenres []string
	SelectedRating int // 0 = no filter, otherwise exact match
	SearchTerm     string
	SortKey        string
}

// DefaultFilterSpec returns the unfiltered name-ascending view.
func DefaultFilterSpec() FilterSpec {
	return FilterSpec{CategoryCode: CategoryAll, SortKey: SortNameAsc}
}

// Entry pairs a work ID with its record in view output.
type Entry struct {
	ID     WorkID
	Record WorkRecord
}

// View filters and sorts a cache snapshot. It is pure: the same snapshot and
// spec always produce the same sequence, and the snapshot is not modified.
func View(snapshot map[WorkID]WorkRecord, spec FilterSpec) []Entry {
	entries := make([]Entry, 0, len(snapshot))
	for id, rec := range snapshot {
		if matches(&rec, spec) {
			entries = append(entries, Entry{ID: id, Record: rec})
		}
	}
	sortEntries(entries, spec.SortKey)
	return entries
}

// matches applies the filter conjunction: category, rating, genres, search.
func matches(rec *WorkRecord, spec FilterSpec) bool {
	if spec.CategoryCode != "" && spec.CategoryCode != CategoryAll &&
		rec.Category != spec.CategoryCode {
		return false
	}

	if spec.SelectedRating != 0 && rec.Rating != spec.SelectedRating {
		return false
	}

	if len(spec.SelectedGenres) > 0 && !intersects(spec.SelectedGenres, rec.Genres) {
		return false
	}

	if term := strings.ToLower(strings.TrimSpace(spec.SearchTerm)); term != "" {
		if !containsFold(rec.DisplayTitle(), term) &&
			!containsFold(rec.Circle, term) &&
			!anyContainsFold(rec.CustomTags, term) {
			return false
		}
	}

	return true
}

func intersects(selected, genres []string) bool {
	for _, want := range selected {
		for _, g := range genres {
			if g == want {
				return true
			}
		}
	}
	return false
}

// containsFold checks a case-insensitive substring match; term must already
// be lowercased.
func containsFold(s, term string) bool {
	return strings.Contains(strings.ToLower(s), term)
}

func anyContainsFold(values []string, term string) bool {
	for _, v := range values {
		if containsFold(v, term) {
			return true
		}
	}
	return false
}

func sortEntries(entries []Entry, sortKey string) {
	var less func(a, b *Entry) bool

	switch sortKey {
	case SortNameDesc:
		less = func(a, b *Entry) bool { return titleLess(b, a) }
	case SortLastPlayed:
		less = func(a, b *Entry) bool {
			return timeOrEpoch(a.Record.LastPlayedAt).After(timeOrEpoch(b.Record.LastPlayedAt))
		}
	case SortLastAdded:
		less = func(a, b *Entry) bool {
			return timeOrEpoch(a.Record.AddedAt).After(timeOrEpoch(b.Record.AddedAt))
		}
	case SortReleaseAsc:
		less = func(a, b *Entry) bool {
			return releaseTime(&a.Record).Before(releaseTime(&b.Record))
		}
	case SortReleaseDesc:
		less = func(a, b *Entry) bool {
			return releaseTime(&a.Record).After(releaseTime(&b.Record))
		}
	default: // SortNameAsc
		less = titleLess
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		// Tiebreak on ID so the sequence is fully deterministic.
		return a.ID < b.ID
	})
}

// titleLess orders by display title, case-insensitively, with a byte-order
// tiebreak so equal-folded titles still sort the same everywhere.
func titleLess(a, b *Entry) bool {
	at, bt := a.Record.DisplayTitle(), b.Record.DisplayTitle()
	al, bl := strings.ToLower(at), strings.ToLower(bt)
	if al != bl {
		return al < bl
	}
	return at < bt
}

// timeOrEpoch treats missing timestamps as the epoch so unplayed and
// undated records sort last in the descending views.
func timeOrEpoch(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func releaseTime(rec *WorkRecord) time.Time {
	if rec.ReleaseDate == "" || rec.ReleaseDate == ReleaseDateUnknown {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", rec.ReleaseDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Genres collects the distinct genres across a snapshot, sorted, for the
// filter dropdown.
func Genres(snapshot map[WorkID]WorkRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range snapshot {
		for _, g := range rec.Genres {
			seen[g] = struct{}{}
		}
	}
	genres := make([]string, 0, len(seen))
	for g := range seen {
		genres = append(genres, g)
	}
	sort.Strings(genres)
	return genres
}

// CategoryOption is one entry of the category dropdown.
type CategoryOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Categories collects the distinct categories present in a snapshot, sorted
// by display name.
func Categories(snapshot map[WorkID]WorkRecord) []CategoryOption {
	seen := make(map[string]struct{})
	for _, rec := range snapshot {
		if rec.Category != "" {
			seen[rec.Category] = struct{}{}
		}
	}
	options := make([]CategoryOption, 0, len(seen))
	for code := range seen {
		options = append(options, CategoryOption{Code: code, Name: CategoryName(code)})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Name < options[j].Name })
	return options
}
