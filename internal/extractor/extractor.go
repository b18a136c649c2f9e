// Package extractor turns a fetched HTML document into link records and image references.
package extractor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	maxTextRunes  = 200
	maxTitleRunes = 100
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// HTMLExtractor implements scraper.Extractor with goquery.
type HTMLExtractor struct{}

// New returns an HTMLExtractor.
func New() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract parses body and returns deduplicated links (document order, first occurrence wins)
// and one image reference per usable <img>, indexed by its position among all images.
func (e *HTMLExtractor) Extract(body []byte, baseURL string) (scraper.Extraction, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return scraper.Extraction{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return scraper.Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	return scraper.Extraction{
		Links:  extractLinks(doc, base),
		Images: extractImages(doc, base),
	}, nil
}

func extractLinks(doc *goquery.Document, base *url.URL) []scraper.LinkRecord {
	seen := make(map[string]struct{})
	links := make([]scraper.LinkRecord, 0)
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if skipHref(href) {
			return
		}
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		normalized, err := scraper.NormalizeURL(abs)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}

		title := strings.TrimSpace(sel.AttrOr("title", ""))
		text := collapseSpace(sel.Text())
		if text == "" {
			text = title
		}
		if text == "" {
			text = strings.TrimSpace(sel.AttrOr("alt", ""))
		}
		links = append(links, scraper.LinkRecord{
			URL:    normalized,
			Text:   truncate(text, maxTextRunes),
			Title:  truncate(title, maxTitleRunes),
			Target: strings.TrimSpace(sel.AttrOr("target", "")),
			Rel:    collapseSpace(sel.AttrOr("rel", "")),
		})
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL) []scraper.ImageReference {
	images := make([]scraper.ImageReference, 0)
	doc.Find("img").Each(func(index int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			return
		}
		if hasPrefixFold(src, "data:image") {
			images = append(images, decodeDataURI(index, src))
			return
		}
		abs, ok := resolve(base, src)
		if !ok {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || u.Host == "" {
			return
		}
		u.Fragment = ""
		images = append(images, scraper.ImageReference{
			Index: index,
			Kind:  scraper.SourceRemote,
			URL:   u.String(),
		})
	})
	return images
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, scheme := range skippedSchemes {
		if hasPrefixFold(href, scheme) {
			return true
		}
	}
	return false
}

// resolve joins root-relative and dot-relative references against base and accepts
// absolute http(s) URLs. Anything else is rejected.
func resolve(base *url.URL, ref string) (string, bool) {
	if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "./") {
		rel, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		ref = base.ResolveReference(rel).String()
	}
	if !hasPrefixFold(ref, "http://") && !hasPrefixFold(ref, "https://") {
		return "", false
	}
	return ref, true
}

var errMalformedDataURI = errors.New("malformed data uri")

// decodeDataURI decodes data:image/<type>[;base64],<payload> eagerly. Decode failures are kept on
// the reference so the downloader can report the asset as failed.
func decodeDataURI(index int, src string) scraper.ImageReference {
	ref := scraper.ImageReference{Index: index, Kind: scraper.SourceInline}
	header, payload, found := strings.Cut(src[len("data:"):], ",")
	if !found {
		ref.DecodeErr = errMalformedDataURI
		return ref
	}
	params := strings.Split(header, ";")
	ref.MIMEType = strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var (
		data []byte
		err  error
	)
	if isBase64 {
		data, err = decodeBase64(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		ref.DecodeErr = fmt.Errorf("%w: %v", errMalformedDataURI, err)
		return ref
	}
	ref.Data = data
	return ref
}

func decodeBase64(payload string) ([]byte, error) {
	clean := strings.Join(strings.Fields(payload), "")
	if unescaped, err := url.PathUnescape(clean); err == nil {
		clean = unescaped
	}
	data, err := base64.StdEncoding.DecodeString(clean)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
