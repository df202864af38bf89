package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeImage struct {
	name   string
	img    image.Image
	err    error
	panics bool
}

func (f fakeImage) Name() string { return f.name }

func (f fakeImage) Decode() (image.Image, error) {
	if f.panics {
		panic("corrupt image stream")
	}
	return f.img, f.err
}

// fakeDoc serves in-memory pages. Images on page i are delayed by delays[i].
type fakeDoc struct {
	pages   [][]SourceImage
	pageErr map[int]error
	delays  map[int]time.Duration
	closed  atomic.Int32
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) Images(page int) iter.Seq2[SourceImage, error] {
	return func(yield func(SourceImage, error) bool) {
		if delay := d.delays[page]; delay > 0 {
			time.Sleep(delay)
		}
		for _, img := range d.pages[page] {
			if !yield(img, nil) {
				return
			}
		}
		if err := d.pageErr[page]; err != nil {
			yield(nil, err)
		}
	}
}

func (d *fakeDoc) Close() error {
	d.closed.Add(1)
	return nil
}

func openerFor(doc Document) Opener {
	return func(io.ReaderAt, int64) (Document, error) { return doc, nil }
}

func solid(c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func img(name string, c color.Color) SourceImage {
	return fakeImage{name: name, img: solid(c)}
}

// readZip returns the entries of an archive keyed by name.
func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = body
	}
	return entries
}

type fixedProbe struct {
	available uint64
	err       error
}

func (p fixedProbe) Available(context.Context) (uint64, error) {
	return p.available, p.err
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("disk full")
	}
	w.after--
	return len(p), nil
}
