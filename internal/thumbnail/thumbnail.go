// Package thumbnail turns an original upload into a bounded JPEG preview.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const ContentType = "image/jpeg"

type Options struct {
	Width   int
	Height  int
	Quality int
}

type Result struct {
	Data         []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// Name derives the thumbnail blob name. It is deterministic so that a
// redelivered message overwrites the same blob.
func Name(prefix, blobName string) string {
	return prefix + blobName
}

// Generate decodes data, fits it inside the Width x Height box without
// upscaling or cropping, and re-encodes it as JPEG.
func Generate(data []byte, opts Options) (Result, error) {
	const op = "thumbnail.Generate"

	if opts.Width < 1 || opts.Height < 1 {
		return Result{}, fmt.Errorf("%s: invalid bound %dx%d", op, opts.Width, opts.Height)
	}
	quality := opts.Quality
	if quality == 0 {
		quality = 85
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	sb := src.Bounds()

	var thumb image.Image = src
	if w, h := FitSize(sb.Dx(), sb.Dy(), opts.Width, opts.Height); w != sb.Dx() || h != sb.Dy() {
		thumb = imaging.Resize(src, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Result{}, fmt.Errorf("%s: encode: %w", op, err)
	}

	b := thumb.Bounds()
	return Result{
		Data:         buf.Bytes(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceWidth:  sb.Dx(),
		SourceHeight: sb.Dy(),
	}, nil
}

// FitSize scales (w, h) down to fit inside (maxW, maxH) keeping the aspect
// ratio, never scaling up. Generate resizes to exactly this size.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	srcAspect := float64(w) / float64(h)
	maxAspect := float64(maxW) / float64(maxH)
	if srcAspect > maxAspect {
		return maxW, max(int(float64(maxW)/srcAspect), 1)
	}
	return max(int(float64(maxH)*srcAspect), 1), maxH
}
