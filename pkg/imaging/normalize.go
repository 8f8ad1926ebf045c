package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 400
	DefaultQuality   = 70
	DefaultMaxPixels = 50_000_000
)

var (
	ErrDecode = errors.New("image decode failed")
	ErrFormat = errors.New("image conversion failed")
)

// Normalizer converts arbitrary images into small RGB JPEGs.
type Normalizer struct {
	MaxWidth int
	// MaxHeight bounds very tall images. Zero means ten times MaxWidth.
	MaxHeight int
	Quality   int
	// MaxPixels rejects images whose header claims more pixels than this.
	MaxPixels int
}

// Default is the normalizer used by Normalize.
var Default = Normalizer{
	MaxWidth:  DefaultMaxWidth,
	Quality:   DefaultQuality,
	MaxPixels: DefaultMaxPixels,
}

// Normalize decodes raw, flattens it onto white, caps the width and
// re-encodes it as JPEG using the Default settings.
func Normalize(raw []byte) ([]byte, error) {
	return Default.Normalize(raw)
}

// Normalize applies n to raw.
func (n Normalizer) Normalize(raw []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrFormat, cfg.Width, cfg.Height)
	}
	if n.MaxPixels > 0 && cfg.Width*cfg.Height > n.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrDecode, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, fmt.Errorf("%w: empty bounds", ErrFormat)
	}

	w, h := n.targetSize(src.Dx(), src.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}

	quality := n.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %v", ErrFormat, err)
	}
	return out.Bytes(), nil
}

func (n Normalizer) targetSize(w, h int) (int, int) {
	maxW := n.MaxWidth
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	maxH := n.MaxHeight
	if maxH <= 0 {
		maxH = maxW * 10
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := float64(maxW) / float64(w)
	if hs := float64(maxH) / float64(h); hs < scale {
		scale = hs
	}
	tw := int(float64(w)*scale + 0.5)
	th := int(float64(h)*scale + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}
