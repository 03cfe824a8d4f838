package analysis

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// maxEdge is the longest image edge shipped to the backend. The embedding
// model downsamples to 224px, so anything bigger only costs bandwidth.
const maxEdge = 1024

const jpegQuality = 90

// prepareImage downscales oversized images and re-encodes them as JPEG.
// Images that are already small enough, or that fail to decode, are passed
// through untouched; decode problems are the backend's to report.
func prepareImage(data []byte, contentType string) ([]byte, string) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, contentType
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		return data, contentType
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, contentType
	}

	var scaled image.Image
	if cfg.Width >= cfg.Height {
		scaled = resize.Resize(maxEdge, 0, img, resize.Lanczos3)
	} else {
		scaled = resize.Resize(0, maxEdge, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}
