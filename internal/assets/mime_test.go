package assets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtensionForMIME(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"image/png":                "png",
		"image/jpeg":               "jpeg",
		"image/jpg":                "jpg",
		"image/gif":                "gif",
		"IMAGE/WEBP":               "webp",
		"image/svg+xml":            "svg",
		"image/svg+xml; charset=x": "svg",
		"image/bmp":                "jpg",
		"":                         "jpg",
		"nonsense":                 "jpg",
	}
	for in, want := range cases {
		require.Equal(t, want, ExtensionForMIME(in), in)
	}
}

func TestExtensionForResponseFallsBackToURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "png", extensionForResponse("application/octet-stream", "https://ex.com/a/logo.PNG?v=1"))
	require.Equal(t, "svg", extensionForResponse("", "https://ex.com/icon.svg"))
	require.Equal(t, "gif", extensionForResponse("image/gif", "https://ex.com/icon.svg"))
	require.Equal(t, "jpg", extensionForResponse("text/plain", "https://ex.com/no-ext"))
}
