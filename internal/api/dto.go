package api

import (
	"dlshelf/internal/library"
	"dlshelf/internal/resolver"
	"dlshelf/internal/store"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorkView is one catalog entry: the record plus fields derived for display.
type WorkView struct {
	library.WorkRecord
	DisplayTitle string `json:"displayTitle"`
	CategoryName string `json:"categoryName,omitempty"`
	FetchState   string `json:"fetchState"`
	CoverURL     string `json:"coverUrl,omitempty"`
}

// CatalogResponse is the filtered, sorted catalog view. Message is set when
// the catalog is empty for a reason the user should see (library root unset
// or missing).
type CatalogResponse struct {
	Works   []WorkView `json:"works"`
	Total   int        `json:"total"`
	Message string     `json:"message,omitempty"`
}

type WorkDetailResponse struct {
	Work     WorkView        `json:"work"`
	Sessions []store.Session `json:"sessions,omitempty"`
}

type ScanResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Result  *resolver.CycleResult `json:"result,omitempty"`
}

type RatingRequest struct {
	Rating int `json:"rating"`
}

type TagsRequest struct {
	Tags []string `json:"tags"`
}

type SessionRequest struct {
	Seconds int64 `json:"seconds"`
}

type LaunchResponse struct {
	Status string `json:"status"`
}

type GenresResponse struct {
	Genres []string `json:"genres"`
}

type CategoriesResponse struct {
	Categories []library.CategoryOption `json:"categories"`
}
