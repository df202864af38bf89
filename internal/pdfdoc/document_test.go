package pdfdoc

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc/pdftest"
)

func openBytes(t *testing.T, data []byte) *Document {
	t.Helper()
	doc, err := Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func collect(t *testing.T, doc *Document, page int) []*Image {
	t.Helper()
	var images []*Image
	for img, err := range doc.Images(page) {
		require.NoError(t, err)
		images = append(images, img)
	}
	return images
}

func TestOpenAndEnumerate(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	data := pdftest.Build(
		pdftest.Page{Images: map[string]pdftest.Image{
			"Im2": pdftest.Solid(2, 2, red),
			"Im1": pdftest.Gray(3, 1, 0x80),
		}},
		pdftest.Page{},
	)
	doc := openBytes(t, data)
	assert.Equal(t, 2, doc.NumPages())

	images := collect(t, doc, 0)
	require.Len(t, images, 2)
	assert.Equal(t, "Im1", images[0].Name())
	assert.Equal(t, "Im2", images[1].Name())

	assert.Empty(t, collect(t, doc, 1))
}

func TestDecodeColorSpaces(t *testing.T) {
	tests := []struct {
		name  string
		image pdftest.Image
		want  color.NRGBA
		at    image.Point
	}{
		{
			name:  "flate rgb",
			image: pdftest.Solid(2, 2, color.RGBA{R: 255, A: 255}),
			want:  color.NRGBA{R: 255, A: 255},
		},
		{
			name:  "gray",
			image: pdftest.Gray(2, 2, 0x40),
			want:  color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 255},
		},
		{
			name: "cmyk",
			image: pdftest.Image{Width: 1, Height: 1, ColorSpace: "DeviceCMYK", BPC: 8,
				Data: []byte{0, 0, 0, 255}},
			want: color.NRGBA{A: 255},
		},
		{
			name: "indexed",
			image: pdftest.Image{Width: 2, Height: 1, ColorSpace: "[/Indexed /DeviceRGB 1 <FF000000FF00>]", BPC: 8,
				Data: []byte{0, 1}},
			want: color.NRGBA{G: 255, A: 255},
			at:   image.Pt(1, 0),
		},
		{
			name: "one bit gray",
			image: pdftest.Image{Width: 8, Height: 1, ColorSpace: "DeviceGray", BPC: 1,
				Data: []byte{0xF0}},
			want: color.NRGBA{A: 255},
			at:   image.Pt(5, 0),
		},
		{
			name: "inverted decode",
			image: pdftest.Image{Width: 1, Height: 1, ColorSpace: "DeviceGray", BPC: 8,
				Data: []byte{0}, Extra: "/Decode [1 0]"},
			want: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := openBytes(t, pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": tt.image}}))
			images := collect(t, doc, 0)
			require.Len(t, images, 1)

			img, err := images[0].Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, color.NRGBAModel.Convert(img.At(tt.at.X, tt.at.Y)))
		})
	}
}

func TestDecodeSoftMask(t *testing.T) {
	mask := pdftest.Gray(2, 1, 0x7f)
	img := pdftest.Solid(2, 1, color.RGBA{B: 255, A: 255})
	img.SMask = &mask

	doc := openBytes(t, pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": img}}))
	images := collect(t, doc, 0)
	require.Len(t, images, 1)

	out, err := images[0].Decode()
	require.NoError(t, err)
	nrgba, ok := out.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{B: 255, A: 0x7f}, nrgba.NRGBAAt(1, 0))
}

func decodeOnly(t *testing.T, img pdftest.Image, opts ...Option) (image.Image, error) {
	t.Helper()
	data := pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": img}})
	doc, err := Open(bytes.NewReader(data), int64(len(data)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	images := collect(t, doc, 0)
	require.Len(t, images, 1)
	return images[0].Decode()
}

func solidRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		copy(img.Pix[4*i:], []uint8{c.R, c.G, c.B, c.A})
	}
	return img
}

func assertNear(t *testing.T, want, got color.NRGBA) {
	t.Helper()
	near := func(a, b uint8) bool { return a-b < 8 || b-a < 8 }
	assert.Truef(t, near(want.R, got.R) && near(want.G, got.G) && near(want.B, got.B) && want.A == got.A,
		"want %v, got %v", want, got)
}

func TestDecodeJPEG(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}

	t.Run("plain", func(t *testing.T) {
		out, err := decodeOnly(t, pdftest.JPEG(solidRGBA(16, 8, red), "DeviceRGB"))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 16, 8), out.Bounds())
		assertNear(t, red, color.NRGBAModel.Convert(out.At(3, 3)).(color.NRGBA))
	})

	t.Run("flate wrapped", func(t *testing.T) {
		img := pdftest.JPEG(solidRGBA(8, 8, red), "DeviceRGB")
		img.Data = pdftest.Deflate(img.Data)
		img.Filter = "[/FlateDecode /DCTDecode]"
		out, err := decodeOnly(t, img)
		require.NoError(t, err)
		assertNear(t, red, color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA))
	})

	t.Run("inverted gray", func(t *testing.T) {
		gray := image.NewGray(image.Rect(0, 0, 8, 8))
		img := pdftest.JPEG(gray, "DeviceGray")
		img.Extra = "/Decode [1 0]"
		out, err := decodeOnly(t, img)
		require.NoError(t, err)
		assertNear(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, color.NRGBAModel.Convert(out.At(4, 4)).(color.NRGBA))
	})

	t.Run("soft mask", func(t *testing.T) {
		img := pdftest.JPEG(solidRGBA(4, 4, red), "DeviceRGB")
		mask := pdftest.Gray(4, 4, 0x40)
		img.SMask = &mask
		out, err := decodeOnly(t, img)
		require.NoError(t, err)
		nrgba, ok := out.(*image.NRGBA)
		require.True(t, ok)
		assert.Equal(t, uint8(0x40), nrgba.NRGBAAt(2, 2).A)
	})

	t.Run("corrupt", func(t *testing.T) {
		bad := pdftest.Image{Width: 1, Height: 1, ColorSpace: "DeviceRGB", BPC: 8, Filter: "DCTDecode", Data: []byte{0xff, 0xd8, 0xff, 0xd9}}
		_, err := decodeOnly(t, bad)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnsupported)
	})
}

func TestDecodeUnsupportedFilter(t *testing.T) {
	jpx := pdftest.Image{Width: 1, Height: 1, ColorSpace: "DeviceRGB", BPC: 8, Filter: "JPXDecode", Data: []byte{0, 0, 0, 0x0c}}
	_, err := decodeOnly(t, jpx)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	huge := pdftest.Image{Width: 1_000_000, Height: 1_000_000, ColorSpace: "DeviceRGB", BPC: 8, Data: []byte{1, 2, 3}}
	_, err := decodeOnly(t, huge)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = decodeOnly(t, pdftest.Gray(10, 10, 0), WithMaxPixels(50))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = decodeOnly(t, pdftest.Gray(10, 10, 0), WithMaxPixels(100))
	assert.NoError(t, err)
}

func TestDecodeStopsInflatingAtImageSize(t *testing.T) {
	const inflated = 64 << 20
	bomb := pdftest.Image{Width: 1, Height: 1, ColorSpace: "DeviceGray", BPC: 8, Filter: "FlateDecode",
		Data: pdftest.Deflate(make([]byte, inflated))}
	data := pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": bomb}})
	doc := openBytes(t, data)
	images := collect(t, doc, 0)
	require.Len(t, images, 1)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := images[0].Decode()
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestImagesFollowNaturalNameOrder(t *testing.T) {
	doc := openBytes(t, pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{
		"Im10": pdftest.Gray(1, 1, 0),
		"Im2":  pdftest.Gray(1, 1, 0),
		"Im1":  pdftest.Gray(1, 1, 0),
	}}))
	var names []string
	for _, img := range collect(t, doc, 0) {
		names = append(names, img.Name())
	}
	assert.Equal(t, []string{"Im1", "Im2", "Im10"}, names)
}

func TestDecodeShortData(t *testing.T) {
	short := pdftest.Image{Width: 4, Height: 4, ColorSpace: "DeviceRGB", BPC: 8, Data: []byte{1, 2, 3}}
	doc := openBytes(t, pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": short}}))
	images := collect(t, doc, 0)
	require.Len(t, images, 1)

	_, err := images[0].Decode()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestOpenRejectsGarbage(t *testing.T) {
	data := []byte("this is not a pdf at all")
	_, err := Open(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestPageOutOfRange(t *testing.T) {
	doc := openBytes(t, pdftest.Build(pdftest.Page{}))
	for _, err := range doc.Images(3) {
		assert.Error(t, err)
	}
}

func TestClosedDocument(t *testing.T) {
	doc := openBytes(t, pdftest.Build(pdftest.Page{Images: map[string]pdftest.Image{"Im1": pdftest.Gray(1, 1, 0)}}))
	images := collect(t, doc, 0)
	require.Len(t, images, 1)

	require.NoError(t, doc.Close())
	require.NoError(t, doc.Close())

	_, err := images[0].Decode()
	assert.ErrorIs(t, err, ErrClosed)
	for _, err := range doc.Images(0) {
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, pdftest.Build(pdftest.Page{}, pdftest.Page{}, pdftest.Page{}), 0o644))

	doc, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.NumPages())
	assert.NoError(t, doc.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
