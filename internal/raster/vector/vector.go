// Package vector rasterizes SVG documents to PNG in-process with oksvg.
package vector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	// Browsers render an SVG without intrinsic size at 300x150.
	defaultWidth     = 300
	defaultHeight    = 150
	defaultMaxPixels = 4096
)

// Rasterizer implements scraper.Rasterizer.
type Rasterizer struct {
	maxDimension int
}

// New returns a Rasterizer that scales output so neither side exceeds maxDimension.
func New(maxDimension int) *Rasterizer {
	if maxDimension <= 0 {
		maxDimension = defaultMaxPixels
	}
	return &Rasterizer{maxDimension: maxDimension}
}

// Rasterize renders svg into a transparent PNG.
func (r *Rasterizer) Rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !bytes.Contains(bytes.ToLower(svg), []byte("<svg")) {
		return nil, fmt.Errorf("%w: input is not an svg document", scraper.ErrConversion)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: parse svg: %v", scraper.ErrConversion, err)
	}

	w, h := r.dimensions(icon.ViewBox.W, icon.ViewBox.H)
	icon.SetTarget(0, 0, float64(w), float64(h))
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", scraper.ErrConversion, err)
	}
	return buf.Bytes(), nil
}

func (r *Rasterizer) dimensions(vw, vh float64) (int, int) {
	if vw <= 0 || vh <= 0 {
		vw, vh = defaultWidth, defaultHeight
	}
	limit := float64(r.maxDimension)
	if scale := math.Min(limit/vw, limit/vh); scale < 1 {
		vw *= scale
		vh *= scale
	}
	return max(1, int(math.Round(vw))), max(1, int(math.Round(vh)))
}
