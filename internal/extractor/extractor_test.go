package extractor

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

func TestExtractFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/a">A</a>
		<a href="/a#x">A2</a>
		<a href="javascript:void(0)">J</a>
	</body></html>`

	out, err := New().Extract([]byte(html), "https://ex.com/")
	require.NoError(t, err)
	require.Equal(t, []scraper.LinkRecord{{URL: "https://ex.com/a", Text: "A"}}, out.Links)
}

func TestExtractSkipsUnusableHrefs(t *testing.T) {
	t.Parallel()

	html := `
		<a href="">empty</a>
		<a>no href</a>
		<a href="#top">frag</a>
		<a href="MAILTO:me@ex.com">mail</a>
		<a href="tel:123">tel</a>
		<a href="data:text/html,hi">data</a>
		<a href="relative/page.html">bare relative</a>
		<a href="ftp://files.ex.com/x">ftp</a>
		<a href="https:///nohost">nohost</a>
		<a href="./b">dot</a>
		<a href="//cdn.ex.com/c">proto relative</a>
		<a href="HTTPS://Other.COM:443/d?z=1&a=2">abs</a>`

	out, err := New().Extract([]byte(html), "https://ex.com/dir/")
	require.NoError(t, err)

	urls := make([]string, 0, len(out.Links))
	for _, l := range out.Links {
		urls = append(urls, l.URL)
	}
	require.Equal(t, []string{
		"https://ex.com/dir/b",
		"https://cdn.ex.com/c",
		"https://other.com/d?a=2&z=1",
	}, urls)
}

func TestExtractLinkAttributes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 250)
	html := `
		<a href="/t" title="Title only"></a>
		<a href="/alt" alt="Alt text"> </a>
		<a href="/text" target="_blank" rel="noopener   noreferrer" title="` + strings.Repeat("t", 150) + `">
			Hello
			<span>world</span>
		</a>
		<a href="/long">` + long + `</a>`

	out, err := New().Extract([]byte(html), "https://ex.com")
	require.NoError(t, err)
	require.Len(t, out.Links, 4)

	require.Equal(t, "Title only", out.Links[0].Text)
	require.Equal(t, "Alt text", out.Links[1].Text)

	styled := out.Links[2]
	require.Equal(t, "Hello world", styled.Text)
	require.Equal(t, "_blank", styled.Target)
	require.Equal(t, "noopener noreferrer", styled.Rel)
	require.Len(t, styled.Title, 100)

	require.Equal(t, 200, len([]rune(out.Links[3].Text)))
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	html := `<a href="/z">z</a><img src="/1.png"><a href="/y">y</a><img src="data:image/png;base64,AAAA"><a href="/z?">z</a>`
	first, err := New().Extract([]byte(html), "https://ex.com")
	require.NoError(t, err)
	for range 5 {
		again, err := New().Extract([]byte(html), "https://ex.com")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Len(t, first.Links, 2)
}

func TestExtractImages(t *testing.T) {
	t.Parallel()

	png := []byte{0x89, 'P', 'N', 'G'}
	svg := `<svg xmlns='http://www.w3.org/2000/svg' width='2' height='2'/>`
	html := `
		<img src="/img/a.png#frag">
		<img>
		<img src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(png) + `">
		<img src="data:image/svg+xml;utf8,` + strings.ReplaceAll(svg, " ", "%20") + `">
		<img src="data:image/gif;base64,!!!not-base64!!!">
		<img src="relative.png">
		<img src="https://cdn.ex.com/b.jpg?size=2">`

	out, err := New().Extract([]byte(html), "https://ex.com/page")
	require.NoError(t, err)
	require.Len(t, out.Images, 5, "missing src and unresolvable relative src are dropped")

	require.Equal(t, scraper.ImageReference{Index: 0, Kind: scraper.SourceRemote, URL: "https://ex.com/img/a.png"}, out.Images[0])

	inline := out.Images[1]
	require.Equal(t, 2, inline.Index)
	require.Equal(t, scraper.SourceInline, inline.Kind)
	require.Equal(t, "image/png", inline.MIMEType)
	require.Equal(t, png, inline.Data)
	require.NoError(t, inline.DecodeErr)

	vector := out.Images[2]
	require.Equal(t, 3, vector.Index)
	require.Equal(t, "image/svg+xml", vector.MIMEType)
	require.Equal(t, svg, string(vector.Data))

	broken := out.Images[3]
	require.Equal(t, 4, broken.Index)
	require.Error(t, broken.DecodeErr)

	require.Equal(t, 6, out.Images[4].Index)
	require.Equal(t, "https://cdn.ex.com/b.jpg?size=2", out.Images[4].URL)
}

func TestDecodeBase64AcceptsUnpadded(t *testing.T) {
	t.Parallel()

	data, err := decodeBase64("aGk")
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}
