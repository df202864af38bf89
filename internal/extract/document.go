package extract

import (
	"image"
	"io"
	"iter"

	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc"
)

// Document is an opened source document. Images may be called for different
// pages from several goroutines at once.
type Document interface {
	NumPages() int
	// Images yields the page's image objects in source order. A non-nil error
	// ends the sequence and fails the page.
	Images(page int) iter.Seq2[SourceImage, error]
	Close() error
}

// SourceImage is one embedded image, decoded on demand.
type SourceImage interface {
	Name() string
	Decode() (image.Image, error)
}

// Opener parses a document from random-access storage.
type Opener func(r io.ReaderAt, size int64) (Document, error)

// OpenPDF opens PDFs with the default pixel ceiling.
func OpenPDF(r io.ReaderAt, size int64) (Document, error) {
	return NewPDFOpener(pdfdoc.DefaultMaxPixels)(r, size)
}

// NewPDFOpener returns an Opener that skips images larger than maxPixels.
func NewPDFOpener(maxPixels int64) Opener {
	return func(r io.ReaderAt, size int64) (Document, error) {
		doc, err := pdfdoc.Open(r, size, pdfdoc.WithMaxPixels(maxPixels))
		if err != nil {
			return nil, err
		}
		return pdfDocument{doc: doc}, nil
	}
}

type pdfDocument struct {
	doc *pdfdoc.Document
}

func (d pdfDocument) NumPages() int { return d.doc.NumPages() }

func (d pdfDocument) Close() error { return d.doc.Close() }

func (d pdfDocument) Images(page int) iter.Seq2[SourceImage, error] {
	return func(yield func(SourceImage, error) bool) {
		for img, err := range d.doc.Images(page) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(pdfImage{img: img}, nil) {
				return
			}
		}
	}
}

type pdfImage struct {
	img *pdfdoc.Image
}

func (i pdfImage) Name() string { return i.img.Name() }

// Decode returns pdfdoc errors as they are; ErrUnsupportedImage and
// ErrImageTooLarge are the pdfdoc sentinels.
func (i pdfImage) Decode() (image.Image, error) {
	return i.img.Decode()
}
