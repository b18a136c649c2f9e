package assets

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/kennygrant/sanitize"
)

const fallbackExtension = "jpg"

var knownSubtypes = map[string]string{
	"jpeg":    "jpeg",
	"jpg":     "jpg",
	"png":     "png",
	"gif":     "gif",
	"webp":    "webp",
	"svg":     "svg",
	"svg+xml": "svg",
}

// ExtensionForMIME maps an image media type to a file extension. Unknown types map to jpg.
func ExtensionForMIME(contentType string) string {
	if ext, ok := lookupMIME(contentType); ok {
		return ext
	}
	return fallbackExtension
}

// extensionForResponse prefers the Content-Type and falls back to the URL path extension
// when the server sends a generic type.
func extensionForResponse(contentType, rawURL string) string {
	if ext, ok := lookupMIME(contentType); ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(sanitize.BaseName(strings.TrimPrefix(path.Ext(u.Path), ".")))
		if mapped, ok := knownSubtypes[ext]; ok {
			return mapped
		}
	}
	return fallbackExtension
}

func lookupMIME(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	_, subtype, found := strings.Cut(mediaType, "/")
	if !found {
		return "", false
	}
	ext, ok := knownSubtypes[subtype]
	return ext, ok
}
