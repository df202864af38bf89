// Package pdfdoc reads embedded image XObjects out of PDF documents.
package pdfdoc

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"sync"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupported marks image encodings this package cannot decode,
	// such as JPX, CCITT or JBIG2 compressed streams.
	ErrUnsupported = errors.New("unsupported image encoding")
	// ErrTooLarge marks images above the pixel ceiling and streams that
	// inflate past what their dimensions allow.
	ErrTooLarge = errors.New("image too large")
	ErrClosed   = errors.New("document is closed")
)

// DefaultMaxPixels bounds width*height of a single image.
const DefaultMaxPixels = 50_000_000

// Option configures a Document.
type Option func(*Document)

// WithMaxPixels sets the pixel ceiling. Values <= 0 keep DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(d *Document) {
		if n > 0 {
			d.maxPixels = n
		}
	}
}

// Document wraps a parsed PDF. The underlying reader makes no concurrency
// guarantees, so every access to it goes through mu.
type Document struct {
	mu        sync.Mutex
	reader    *pdf.Reader
	src       io.ReaderAt
	size      int64
	encrypted bool
	maxPixels int64
	pages     int
	closer    io.Closer
	closed    bool
}

// Open parses the PDF held in r.
func Open(r io.ReaderAt, size int64, opts ...Option) (doc *Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	doc = &Document{
		reader:    reader,
		src:       r,
		size:      size,
		encrypted: reader.Trailer().Key("Encrypt").Kind() != pdf.Null,
		maxPixels: DefaultMaxPixels,
		pages:     reader.NumPage(),
	}
	for _, opt := range opts {
		opt(doc)
	}
	return doc, nil
}

// OpenFile opens and parses the PDF at path. Close releases the file.
func OpenFile(path string, opts ...Option) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	doc, err := Open(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	doc.closer = f
	return doc, nil
}

func (d *Document) NumPages() int {
	return d.pages
}

// Images yields the image XObjects of a 0-based page in natural resource name
// order, so Im2 comes before Im10.
// Pixel data is only read when an Image is decoded.
func (d *Document) Images(page int) iter.Seq2[*Image, error] {
	return func(yield func(*Image, error) bool) {
		images, err := d.pageImages(page)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, img := range images {
			if !yield(img, nil) {
				return
			}
		}
	}
}

func (d *Document) pageImages(page int) (images []*Image, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			images, err = nil, fmt.Errorf("malformed page %d: %v", page+1, p)
		}
	}()

	if d.closed {
		return nil, ErrClosed
	}
	if page < 0 || page >= d.pages {
		return nil, fmt.Errorf("page %d out of range [1, %d]", page+1, d.pages)
	}
	p := d.reader.Page(page + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", page+1)
	}

	xobjects := p.Resources().Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil, nil
	}
	names := xobjects.Keys()
	slices.SortFunc(names, compareNatural)
	for _, name := range names {
		v := xobjects.Key(name)
		if v.Kind() != pdf.Stream || v.Key("Subtype").Name() != "Image" {
			continue
		}
		images = append(images, &Image{doc: d, name: name, value: v})
	}
	return images, nil
}

// Close is safe to call more than once.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// locked runs fn with exclusive access to the reader, turning parser panics
// into errors.
func (d *Document) locked(fn func() error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed image stream: %v", p)
		}
	}()
	if d.closed {
		return ErrClosed
	}
	return fn()
}
