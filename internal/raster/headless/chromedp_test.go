package headless

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, int64(1280), r.cfg.ViewportWidth)
}

func TestRenderTimeoutDefault(t *testing.T) {
	t.Parallel()

	r := &Rasterizer{}
	require.Equal(t, 15*time.Second, r.renderTimeout())
	r.cfg.RenderTimeout = time.Second
	require.Equal(t, time.Second, r.renderTimeout())
}

func TestDocumentURLEmbedsSVG(t *testing.T) {
	t.Parallel()

	u := documentURL([]byte(`<svg viewBox="0 0 1 1"></svg>`))
	require.True(t, strings.HasPrefix(u, "data:text/html;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "data:text/html;base64,"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `<svg viewBox="0 0 1 1"></svg>`)
	require.Contains(t, string(raw), "background:transparent")
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	r := &Rasterizer{limiter: make(chan struct{}, 1)}
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.acquire(ctx), context.Canceled)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}
