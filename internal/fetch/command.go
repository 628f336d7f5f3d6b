package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

// Command runs an external fetch script: `<command> <workID> [lang]`. The
// script prints a JSON object of descriptive fields on success, or an object
// with an "error" field (or exits non-zero) on failure. Scripts are allowed
// to print warnings before the payload, so parsing starts at the first line
// opening a JSON object.
type Command struct {
	path   string
	logger zerolog.Logger
}

func NewCommand(path string, logger zerolog.Logger) *Command {
	return &Command{path: path, logger: logger}
}

// IsAvailable reports whether the configured command resolves to an
// executable.
func (c *Command) IsAvailable() bool {
	_, err := exec.LookPath(c.path)
	return err == nil
}

// commandPayload is the script's output shape, kept compatible with the
// dlsite_async field names.
type commandPayload struct {
	Error string `json:"error"`

	WorkName     string   `json:"work_name"`
	Circle       string   `json:"circle"`
	Publisher    string   `json:"publisher"`
	Category     string   `json:"category"`
	Genre        []string `json:"genre"`
	ReleaseDate  string   `json:"release_date"`
	Series       string   `json:"series"`
	Language     string   `json:"language"`
	FileSize     string   `json:"file_size"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	Scenario     string   `json:"scenario"`
	Illustration string   `json:"illustration"`
	VoiceActor   string   `json:"voice_actor"`
	Music        string   `json:"music"`
	WorkImage    string   `json:"work_image"`
	SampleImages []string `json:"sample_images"`
}

// Fetch runs the script and decodes its payload.
func (c *Command) Fetch(ctx context.Context, id library.WorkID, lang string) (*library.Metadata, error) {
	args := []string{string(id)}
	if lang != "" {
		args = append(args, lang)
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	output, err := cmd.Output()
	if err != nil {
		c.logger.Debug().Err(err).Str("id", string(id)).Msg("fetch command failed")
		return nil, fmt.Errorf("fetch command: %w", err)
	}

	payload, err := decodePayload(output)
	if err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("fetch command: %s", payload.Error)
	}
	if payload.WorkName == "" {
		return nil, fmt.Errorf("fetch command returned no title")
	}

	return payload.metadata(), nil
}

func decodePayload(output []byte) (*commandPayload, error) {
	lines := strings.Split(string(output), "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, fmt.Errorf("no JSON object in fetch command output")
	}

	var payload commandPayload
	if err := json.Unmarshal([]byte(strings.Join(lines[start:], "\n")), &payload); err != nil {
		return nil, fmt.Errorf("malformed fetch command output: %w", err)
	}
	return &payload, nil
}

func (p *commandPayload) metadata() *library.Metadata {
	meta := &library.Metadata{
		Title:       p.WorkName,
		Circle:      p.Circle,
		Publisher:   clean(p.Publisher),
		Category:    p.Category,
		Genres:      p.Genre,
		ReleaseDate: releaseDay(p.ReleaseDate),
		Series:      clean(p.Series),
		Language:    clean(p.Language),
		FileSize:    clean(p.FileSize),
		Description: p.Description,
		CoverURL:    imageURL(p.WorkImage),
	}

	for _, s := range p.SampleImages {
		if u := imageURL(s); u != "" {
			meta.SampleURLs = append(meta.SampleURLs, u)
		}
	}

	credits := make(map[string]string)
	for key, v := range map[string]string{
		"author":   p.Author,
		"scenario": p.Scenario,
		"illust":   p.Illustration,
		"voice":    p.VoiceActor,
		"music":    p.Music,
	} {
		if v := clean(v); v != "" {
			credits[key] = v
		}
	}
	if len(credits) > 0 {
		meta.Credits = credits
	}

	return meta
}

// clean drops the script's "N/A" placeholders.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == "N/A" {
		return ""
	}
	return s
}

// releaseDay trims a timestamp like "2023-05-01T00:00:00" down to the date.
func releaseDay(s string) string {
	s = clean(s)
	if s == "" {
		return library.ReleaseDateUnknown
	}
	if i := strings.IndexAny(s, "T "); i > 0 {
		s = s[:i]
	}
	return s
}

func imageURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
