package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is the target encoding of extracted images. Its value is also the
// extension used in entry names.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatJPG  Format = "jpg"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	FormatTIF  Format = "tif"
	FormatBMP  Format = "bmp"
)

var imagingFormats = map[Format]imaging.Format{
	FormatPNG:  imaging.PNG,
	FormatJPEG: imaging.JPEG,
	FormatJPG:  imaging.JPEG,
	FormatGIF:  imaging.GIF,
	FormatTIFF: imaging.TIFF,
	FormatTIF:  imaging.TIFF,
	FormatBMP:  imaging.BMP,
}

// ParseFormat normalizes a user supplied format such as "PNG" or ".jpg".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if _, ok := imagingFormats[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Encoder turns decoded pixels into bytes of the requested format.
type Encoder interface {
	Encode(img image.Image, format Format) ([]byte, error)
}

// ImagingEncoder encodes with disintegration/imaging.
type ImagingEncoder struct {
	JPEGQuality int
	// Canonicalize converts every image to NRGBA first, so identical pixels
	// encode to identical bytes whatever color model the decoder produced.
	Canonicalize bool
}

func (e ImagingEncoder) Encode(img image.Image, format Format) ([]byte, error) {
	target, ok := imagingFormats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}
	if e.Canonicalize {
		img = imaging.Clone(img)
	}

	quality := e.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 95
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, img, target,
		imaging.JPEGQuality(quality),
		imaging.PNGCompressionLevel(png.DefaultCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image as %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
