package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlshelf/internal/images"
	"dlshelf/internal/launcher"
	"dlshelf/internal/library"
	"dlshelf/internal/resolver"
	"dlshelf/internal/session"
	"dlshelf/internal/store"
)

const Version = "0.1.0"

// Handler serves the catalog API over the core engine. Everything is
// injected; the handler owns no state of its own.
type Handler struct {
	cache      *store.Cache
	settings   *store.SettingsStore
	sessions   *store.Sessions
	scanner    *library.Scanner
	resolver   *resolver.Resolver
	recorder   *session.Recorder
	launcher   *launcher.Launcher
	imageServe *images.Server
	logger     zerolog.Logger

	// onSettingsChanged lets the app rewire the refresh timer and watcher
	// when the user saves settings.
	onSettingsChanged func(store.Settings)
}

func NewHandler(
	cache *store.Cache,
	settings *store.SettingsStore,
	sessions *store.Sessions,
	scanner *library.Scanner,
	res *resolver.Resolver,
	recorder *session.Recorder,
	launch *launcher.Launcher,
	imageServe *images.Server,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		cache:      cache,
		settings:   settings,
		sessions:   sessions,
		scanner:    scanner,
		resolver:   res,
		recorder:   recorder,
		launcher:   launch,
		imageServe: imageServe,
		logger:     logger,
	}
}

// SetSettingsChangedHook registers the callback invoked after a successful
// settings save.
func (h *Handler) SetSettingsChangedHook(hook func(store.Settings)) {
	h.onSettingsChanged = hook
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}

// GetCatalog returns the filtered, sorted catalog view.
//
// Query parameters: category (code or "all"), genres (comma separated),
// rating (0-5, 0 = no filter), search, sort (library.Sort* value, defaults
// to the saved sort preference).
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	settings := h.settings.Get()
	spec := h.filterSpecFromQuery(r, settings)

	entries := library.View(h.cache.Snapshot(), spec)

	works := make([]WorkView, 0, len(entries))
	for _, e := range entries {
		works = append(works, h.workView(e.Record))
	}

	resp := CatalogResponse{Works: works, Total: len(works)}
	if len(works) == 0 {
		resp.Message = h.emptyCatalogMessage(settings)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) filterSpecFromQuery(r *http.Request, settings store.Settings) library.FilterSpec {
	q := r.URL.Query()

	spec := library.DefaultFilterSpec()
	if settings.SelectedSort != "" {
		spec.SortKey = settings.SelectedSort
	}

	if v := q.Get("category"); v != "" {
		spec.CategoryCode = v
	}
	if v := q.Get("genres"); v != "" {
		for _, g := range strings.Split(v, ",") {
			if g = strings.TrimSpace(g); g != "" {
				spec.SelectedGenres = append(spec.SelectedGenres, g)
			}
		}
	}
	if v := q.Get("rating"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 5 {
			spec.SelectedRating = n
		}
	}
	spec.SearchTerm = q.Get("search")
	if v := q.Get("sort"); v != "" {
		spec.SortKey = v
	}
	return spec
}

// emptyCatalogMessage distinguishes "not configured" from "misconfigured";
// both yield an empty catalog but deserve different user messaging.
func (h *Handler) emptyCatalogMessage(settings store.Settings) string {
	_, err := h.scanner.ListWorkIDs(settings.DestinationFolder)
	switch {
	case errors.Is(err, library.ErrNotConfigured):
		return "No library folder configured. Choose one in settings."
	case errors.Is(err, library.ErrRootMissing):
		return "Library folder not found: " + settings.DestinationFolder
	default:
		return "No works found in the library folder."
	}
}

func (h *Handler) workView(rec library.WorkRecord) WorkView {
	view := WorkView{
		WorkRecord:   rec,
		DisplayTitle: rec.DisplayTitle(),
		CategoryName: library.CategoryName(rec.Category),
		FetchState:   rec.FetchState().String(),
	}
	if rec.CoverImage != "" {
		view.CoverURL = "/api/v1/works/" + string(rec.WorkID) + "/cover"
	}
	return view
}

func (h *Handler) GetWork(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	rec, ok := h.cache.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "WORK_NOT_FOUND", "Work not in cache")
		return
	}

	history, err := h.sessions.History(id, 50)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", string(id)).Msg("session history read failed")
	}

	writeJSON(w, http.StatusOK, WorkDetailResponse{
		Work:     h.workView(rec),
		Sessions: history,
	})
}

// DeleteWorkMetadata drops the cache entry so the next scan cycle fetches
// it again. This is the only transition out of the failed state.
func (h *Handler) DeleteWorkMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	if !h.cache.Has(id) {
		writeError(w, http.StatusNotFound, "WORK_NOT_FOUND", "Work not in cache")
		return
	}
	if err := h.cache.Delete(id); err != nil {
		h.logger.Error().Err(err).Str("id", string(id)).Msg("metadata delete failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete metadata")
		return
	}

	h.logger.Info().Str("id", string(id)).Msg("metadata deleted, will re-resolve on next scan")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetRating(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	var req RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Rating must be between 0 and 5")
		return
	}

	err := h.cache.Update(id, func(rec *library.WorkRecord) {
		rec.Rating = req.Rating
	})
	if err != nil {
		h.respondUpdateError(w, id, err, "rating")
		return
	}

	rec, _ := h.cache.Get(id)
	writeJSON(w, http.StatusOK, h.workView(rec))
}

func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	// Tags replace wholesale; order is preserved for display.
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	err := h.cache.Update(id, func(rec *library.WorkRecord) {
		rec.CustomTags = tags
	})
	if err != nil {
		h.respondUpdateError(w, id, err, "tags")
		return
	}

	rec, _ := h.cache.Get(id)
	writeJSON(w, http.StatusOK, h.workView(rec))
}

func (h *Handler) respondUpdateError(w http.ResponseWriter, id library.WorkID, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "WORK_NOT_FOUND", "Work not in cache")
		return
	}
	h.logger.Error().Err(err).Str("id", string(id)).Msg(what + " update failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save "+what)
}

func (h *Handler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}
	h.serveImage(w, id, func() ([]byte, error) { return h.imageServe.Cover(id) })
}

func (h *Handler) GetSample(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid sample index")
		return
	}
	h.serveImage(w, id, func() ([]byte, error) { return h.imageServe.Sample(id, n) })
}

func (h *Handler) serveImage(w http.ResponseWriter, id library.WorkID, read func() ([]byte, error)) {
	data, err := read()
	if err != nil {
		if errors.Is(err, images.ErrNoImage) {
			writeError(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not cached")
			return
		}
		h.logger.Error().Err(err).Str("id", string(id)).Msg("image read failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read image")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) LaunchWork(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	settings := h.settings.Get()
	if settings.DestinationFolder == "" {
		writeError(w, http.StatusBadRequest, "NOT_CONFIGURED", "No library folder configured")
		return
	}

	err := h.launcher.Launch(settings.DestinationFolder, id)
	switch {
	case errors.Is(err, launcher.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "ALREADY_RUNNING", "Work is already running")
		return
	case errors.Is(err, launcher.ErrNoExecutable):
		writeError(w, http.StatusUnprocessableEntity, "NO_EXECUTABLE", "No executable found for this work")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("id", string(id)).Msg("launch failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to launch work")
		return
	}

	writeJSON(w, http.StatusAccepted, LaunchResponse{Status: "launched"})
}

// RecordSession reports a play session from an external launcher (or a
// manual edit). Zero seconds records a touch that only updates
// lastPlayedAt.
func (h *Handler) RecordSession(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if req.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Seconds must be non-negative")
		return
	}

	if err := h.recorder.RecordSession(id, req.Seconds); err != nil {
		h.logger.Error().Err(err).Str("id", string(id)).Msg("session record failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record session")
		return
	}

	rec, _ := h.cache.Get(id)
	writeJSON(w, http.StatusOK, h.workView(rec))
}

// ResetPlayTime clears a work's accumulated play time and history; this is
// the only way totals decrease.
func (h *Handler) ResetPlayTime(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}

	if err := h.recorder.ResetPlayTime(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "WORK_NOT_FOUND", "Work not in cache")
			return
		}
		h.logger.Error().Err(err).Str("id", string(id)).Msg("play time reset failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reset play time")
		return
	}

	rec, _ := h.cache.Get(id)
	writeJSON(w, http.StatusOK, h.workView(rec))
}

func (h *Handler) GetGenres(w http.ResponseWriter, r *http.Request) {
	genres := library.Genres(h.cache.Snapshot())
	if genres == nil {
		genres = []string{}
	}
	writeJSON(w, http.StatusOK, GenresResponse{Genres: genres})
}

func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories := library.Categories(h.cache.Snapshot())
	if categories == nil {
		categories = []library.CategoryOption{}
	}
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: categories})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req store.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	// The store keeps whatever it is given; the clamp lives here at the UI
	// boundary.
	if req.RefreshRate < 0 {
		req.RefreshRate = 0
	}
	if req.RefreshRate > 120 {
		req.RefreshRate = 120
	}
	if req.Language == "" {
		req.Language = "en_US"
	}
	if req.SelectedSort == "" {
		req.SelectedSort = library.SortNameAsc
	}

	if err := h.settings.Save(req); err != nil {
		h.logger.Error().Err(err).Msg("settings save failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save settings")
		return
	}

	if h.onSettingsChanged != nil {
		h.onSettingsChanged(h.settings.Get())
	}

	writeJSON(w, http.StatusOK, h.settings.Get())
}

// TriggerScan starts a scan cycle in the background. A cycle already in
// flight is reported, never interleaved.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.resolver.IsRunning() {
		writeJSON(w, http.StatusOK, ScanResponse{
			Status:  "in_progress",
			Message: "Scan already in progress",
		})
		return
	}

	settings := h.settings.Get()
	if settings.DestinationFolder == "" {
		writeError(w, http.StatusBadRequest, "NOT_CONFIGURED", "No library folder configured")
		return
	}

	go func() {
		_, err := h.resolver.Cycle(context.Background(), settings.DestinationFolder, settings.Language)
		if err != nil && !errors.Is(err, resolver.ErrScanInProgress) {
			h.logger.Error().Err(err).Msg("scan failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, ScanResponse{
		Status:  "started",
		Message: "Library scan started",
	})
}

// ScanStatus reports whether a cycle is running and the counts from the last
// completed one.
func (h *Handler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	resp := ScanResponse{Status: "idle"}
	if h.resolver.IsRunning() {
		resp.Status = "in_progress"
	}
	if last, ok := h.resolver.LastResult(); ok {
		resp.Result = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func workIDParam(w http.ResponseWriter, r *http.Request) (library.WorkID, bool) {
	id, ok := library.ParseWorkID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid work ID")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
