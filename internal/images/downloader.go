// Package images manages the local asset cache: one directory per work
// under the asset root, holding work_image.jpg and sample_N.jpg.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

const (
	CoverFileName     = "work_image.jpg"
	sampleFilePattern = "sample_%d.jpg"
)

// Downloaded lists the asset paths written for a work, relative to the
// asset root.
type Downloaded struct {
	Cover   string
	Samples []string
}

// Downloader fetches a work's cover and sample images into the asset cache.
// Downloads are best-effort: a failed image is logged and skipped, never
// fatal, and the record simply keeps no reference for it.
type Downloader struct {
	root   string
	client *http.Client
	logger zerolog.Logger
}

func NewDownloader(root string, client *http.Client, logger zerolog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Downloader{root: root, client: client, logger: logger}
}

// Root returns the asset root directory.
func (d *Downloader) Root() string {
	return d.root
}

// Download fetches the cover and samples named in meta into the work's
// asset directory and reports what was actually written.
func (d *Downloader) Download(ctx context.Context, id library.WorkID, meta *library.Metadata) Downloaded {
	var out Downloaded

	dir := filepath.Join(d.root, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.logger.Error().Err(err).Str("id", string(id)).Msg("asset dir create failed")
		return out
	}

	if meta.CoverURL != "" {
		dest := filepath.Join(dir, CoverFileName)
		if err := d.fetchFile(ctx, meta.CoverURL, dest); err != nil {
			d.logger.Warn().Err(err).Str("id", string(id)).Msg("cover download failed")
		} else {
			out.Cover = filepath.Join(string(id), CoverFileName)
		}
	}

	for i, u := range meta.SampleURLs {
		name := fmt.Sprintf(sampleFilePattern, i+1)
		dest := filepath.Join(dir, name)
		if err := d.fetchFile(ctx, u, dest); err != nil {
			d.logger.Warn().Err(err).Str("id", string(id)).Int("sample", i+1).
				Msg("sample download failed")
			continue
		}
		out.Samples = append(out.Samples, filepath.Join(string(id), name))
	}

	return out
}

func (d *Downloader) fetchFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}
