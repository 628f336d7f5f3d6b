package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta property="og:image" content="//img.dlsite.jp/modpub/images2/work/doujin/RJ124000/RJ123456_img_main.jpg">
</head>
<body>
<h1 id="work_name">Example Adventure</h1>
<table id="work_maker">
<tr><th>Circle</th><td><span class="maker_name"><a href="/maniax/circle">Example Circle</a></span></td></tr>
</table>
<table id="work_outline">
<tr><th>Release date</th><td><a href="/maniax/new/=/year/2023/mon/5/day/1/">May 1, 2023</a></td></tr>
<tr><th>Series name</th><td>Example Saga</td></tr>
<tr><th>Product format</th><td><a href="/maniax/works/type/=/work_type/RPG/">Role Playing</a></td></tr>
<tr><th>File size</th><td>120.5 MB</td></tr>
<tr><th>Genre</th><td class="main_genre"><a href="/g1">Fantasy</a> <a href="/g2">Adventure</a></td></tr>
<tr><th>Author</th><td>Some Author</td></tr>
</table>
<div itemprop="description">A long description of the work.</div>
<div class="product-slider-data">
<div data-src="//img.dlsite.jp/modpub/images2/work/doujin/RJ124000/RJ123456_img_smp1.jpg"></div>
<div data-src="//img.dlsite.jp/modpub/images2/work/doujin/RJ124000/RJ123456_img_smp2.jpg"></div>
</div>
</body>
</html>`

func TestParseWorkPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(workPageHTML))
	require.NoError(t, err)

	meta, err := ParseWorkPage(doc)
	require.NoError(t, err)

	assert.Equal(t, "Example Adventure", meta.Title)
	assert.Equal(t, "Example Circle", meta.Circle)
	assert.Equal(t, "2023-05-01", meta.ReleaseDate)
	assert.Equal(t, "Example Saga", meta.Series)
	assert.Equal(t, "RPG", meta.Category)
	assert.Equal(t, "120.5 MB", meta.FileSize)
	assert.Equal(t, []string{"Fantasy", "Adventure"}, meta.Genres)
	assert.Equal(t, "A long description of the work.", meta.Description)
	assert.Equal(t, "Some Author", meta.Credits["author"])

	assert.Equal(t,
		"https://img.dlsite.jp/modpub/images2/work/doujin/RJ124000/RJ123456_img_main.jpg",
		meta.CoverURL)
	assert.Len(t, meta.SampleURLs, 2)
	assert.True(t, strings.HasPrefix(meta.SampleURLs[0], "https://"))
}

func TestParseWorkPageJapaneseLabels(t *testing.T) {
	html := `<html><body>
<h1 id="work_name">サンプル作品</h1>
<table id="work_outline">
<tr><th>販売日</th><td><a href="/maniax/new/=/year/2022/mon/11/day/20/">2022年11月20日</a></td></tr>
<tr><th>作品形式</th><td><a href="/maniax/works/type/=/work_type/SOU/">ボイス・ASMR</a></td></tr>
<tr><th>ジャンル</th><td><a href="/g">癒し</a></td></tr>
</table>
</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	meta, err := ParseWorkPage(doc)
	require.NoError(t, err)

	assert.Equal(t, "サンプル作品", meta.Title)
	assert.Equal(t, "2022-11-20", meta.ReleaseDate)
	assert.Equal(t, "SOU", meta.Category)
	assert.Equal(t, []string{"癒し"}, meta.Genres)
}

func TestParseWorkPageNoTitle(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>age check</body></html>"))
	require.NoError(t, err)

	_, err = ParseWorkPage(doc)
	assert.Error(t, err, "interstitial pages must not parse as works")
}

func TestParseWorkPageMissingRelease(t *testing.T) {
	html := `<html><body><h1 id="work_name">X</h1><table id="work_outline"></table></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	meta, err := ParseWorkPage(doc)
	require.NoError(t, err)
	assert.Equal(t, "unknown", meta.ReleaseDate)
}

func TestDLsiteFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDLsite(srv.Client(), zerolog.Nop())
	// Point the request at the test server by rewriting through its client.
	d.client.Transport = rewriteHost(srv)

	_, err := d.Fetch(context.Background(), "RJ000000", "en_US")
	assert.ErrorIs(t, err, ErrWorkNotFound)
}

func TestDLsiteFetchParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "RJ123456")
		assert.Equal(t, "en_US", r.URL.Query().Get("locale"))
		w.Write([]byte(workPageHTML))
	}))
	defer srv.Close()

	d := NewDLsite(srv.Client(), zerolog.Nop())
	d.client.Transport = rewriteHost(srv)

	meta, err := d.Fetch(context.Background(), "RJ123456", "en_US")
	require.NoError(t, err)
	assert.Equal(t, "Example Adventure", meta.Title)
}

// rewriteHost redirects any outgoing request to the test server.
func rewriteHost(srv *httptest.Server) http.RoundTripper {
	target := strings.TrimPrefix(srv.URL, "http://")
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = target
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
