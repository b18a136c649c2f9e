// Package raster holds the vector-to-raster converters used for SVG images.
// The vector package renders in-process; headless renders through a Chrome instance.
package raster
