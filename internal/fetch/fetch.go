// Package fetch provides the metadata fetch collaborators. The resolver only
// sees the Fetcher contract: a structured Metadata payload on success, an
// error on any kind of failure (transport, not-found, malformed output).
package fetch

import (
	"context"
	"errors"

	"dlshelf/internal/library"
)

// ErrWorkNotFound means the remote side has no work under this ID.
var ErrWorkNotFound = errors.New("work not found")

// Fetcher retrieves descriptive metadata for a work ID.
type Fetcher interface {
	Fetch(ctx context.Context, id library.WorkID, lang string) (*library.Metadata, error)
}
