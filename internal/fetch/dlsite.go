package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

const dlsiteWorkURL = "https://www.dlsite.com/maniax/work/=/product_id/%s.html"

// DLsite scrapes work pages from dlsite.com. Parsing is split off into a
// pure function of the fetched document so it can be tested against saved
// HTML without the network.
type DLsite struct {
	client *http.Client
	logger zerolog.Logger
}

func NewDLsite(client *http.Client, logger zerolog.Logger) *DLsite {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DLsite{client: client, logger: logger}
}

// Fetch downloads and parses the work page for id. The lang hint selects the
// page locale, which changes genre and category display strings.
func (d *DLsite) Fetch(ctx context.Context, id library.WorkID, lang string) (*library.Metadata, error) {
	pageURL := fmt.Sprintf(dlsiteWorkURL, url.PathEscape(string(id)))
	if lang != "" {
		pageURL += "?locale=" + url.QueryEscape(lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dlshelf/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrWorkNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("dlsite returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	meta, err := ParseWorkPage(doc)
	if err != nil {
		return nil, err
	}

	d.logger.Debug().Str("id", string(id)).Str("title", meta.Title).Msg("work page parsed")
	return meta, nil
}

// outline row labels, per page locale. DLsite serves English or Japanese
// headers depending on ?locale.
var outlineLabels = map[string][]string{
	"release":  {"Release date", "販売日"},
	"series":   {"Series name", "シリーズ名"},
	"category": {"Product format", "作品形式"},
	"size":     {"File size", "ファイル容量"},
	"genre":    {"Genre", "ジャンル"},
	"language": {"Language", "言語", "対応言語"},
	"author":   {"Author", "作者"},
	"scenario": {"Scenario", "シナリオ"},
	"illust":   {"Illustration", "イラスト"},
	"voice":    {"Voice Actor", "声優"},
	"music":    {"Music", "音楽"},
}

var releaseHrefPattern = regexp.MustCompile(`/year/(\d{4})/mon/(\d{1,2})/day/(\d{1,2})`)

// ParseWorkPage extracts metadata from a DLsite work page document. It fails
// only when the page carries no work title, which is how interstitial and
// error pages are told apart from real work pages.
func ParseWorkPage(doc *goquery.Document) (*library.Metadata, error) {
	title := strings.TrimSpace(doc.Find("#work_name").First().Text())
	if title == "" {
		return nil, fmt.Errorf("page has no work title")
	}

	meta := &library.Metadata{
		Title:       title,
		Circle:      strings.TrimSpace(doc.Find("#work_maker .maker_name a").First().Text()),
		Description: strings.TrimSpace(doc.Find("div[itemprop=description]").First().Text()),
		ReleaseDate: library.ReleaseDateUnknown,
	}

	rows := outlineRows(doc)

	if cell := findRow(rows, outlineLabels["release"]); cell != nil {
		meta.ReleaseDate = parseReleaseDate(cell)
	}
	if cell := findRow(rows, outlineLabels["series"]); cell != nil {
		meta.Series = strings.TrimSpace(cell.Text())
	}
	if cell := findRow(rows, outlineLabels["size"]); cell != nil {
		meta.FileSize = strings.TrimSpace(cell.Text())
	}
	if cell := findRow(rows, outlineLabels["language"]); cell != nil {
		meta.Language = strings.TrimSpace(cell.Text())
	}
	if cell := findRow(rows, outlineLabels["category"]); cell != nil {
		meta.Category = categoryCode(cell)
	}
	if cell := findRow(rows, outlineLabels["genre"]); cell != nil {
		cell.Find("a").Each(func(_ int, a *goquery.Selection) {
			if g := strings.TrimSpace(a.Text()); g != "" {
				meta.Genres = append(meta.Genres, g)
			}
		})
	}

	credits := make(map[string]string)
	for _, key := range []string{"author", "scenario", "illust", "voice", "music"} {
		if cell := findRow(rows, outlineLabels[key]); cell != nil {
			if v := strings.TrimSpace(cell.Text()); v != "" {
				credits[key] = v
			}
		}
	}
	if len(credits) > 0 {
		meta.Credits = credits
	}

	meta.CoverURL = absoluteImageURL(doc.Find(`meta[property="og:image"]`).AttrOr("content", ""))

	doc.Find(".product-slider-data div[data-src]").Each(func(_ int, s *goquery.Selection) {
		if u := absoluteImageURL(s.AttrOr("data-src", "")); u != "" && u != meta.CoverURL {
			meta.SampleURLs = append(meta.SampleURLs, u)
		}
	})

	return meta, nil
}

type outlineRow struct {
	label string
	cell  *goquery.Selection
}

func outlineRows(doc *goquery.Document) []outlineRow {
	var rows []outlineRow
	doc.Find("#work_outline tr").Each(func(_ int, tr *goquery.Selection) {
		label := strings.TrimSpace(tr.Find("th").First().Text())
		td := tr.Find("td").First()
		if label != "" && td.Length() > 0 {
			rows = append(rows, outlineRow{label: label, cell: td})
		}
	})
	return rows
}

func findRow(rows []outlineRow, labels []string) *goquery.Selection {
	for _, row := range rows {
		for _, want := range labels {
			if row.label == want {
				return row.cell
			}
		}
	}
	return nil
}

// parseReleaseDate reads the date out of the release link href, which keeps
// the same /year/M/mon/D shape in every locale; the visible text does not.
func parseReleaseDate(cell *goquery.Selection) string {
	href := cell.Find("a").First().AttrOr("href", "")
	m := releaseHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return library.ReleaseDateUnknown
	}
	return fmt.Sprintf("%s-%s-%s", m[1], pad2(m[2]), pad2(m[3]))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// categoryCode pulls the fixed category code (RPG, SOU, ...) from the work
// type link rather than the localized label text.
func categoryCode(cell *goquery.Selection) string {
	href := cell.Find("a").First().AttrOr("href", "")
	for _, part := range strings.Split(href, "/") {
		if library.KnownCategory(part) {
			return part
		}
	}
	return ""
}

// absoluteImageURL fixes up DLsite's protocol-relative image URLs.
func absoluteImageURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
