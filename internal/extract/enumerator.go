package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Candidate is one image produced by a page, either encoded or skipped.
type Candidate struct {
	Ordinal int // 1-based position among the page's image objects
	Name    string
	Data    []byte
	Skip    SkipReason
	Err     error
}

// Enumerator turns a page's image objects into encoded candidates.
type Enumerator struct {
	encoder Encoder
	format  Format
}

func NewEnumerator(encoder Encoder, format Format) *Enumerator {
	return &Enumerator{encoder: encoder, format: format}
}

// Page lazily decodes and encodes the images of a 0-based page in source
// order. Per-image failures come back as skipped candidates; a non-nil error
// means the page itself could not be read further.
func (e *Enumerator) Page(ctx context.Context, doc Document, page int) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		ordinal := 0
		for src, err := range doc.Images(page) {
			if err != nil {
				yield(Candidate{}, fmt.Errorf("failed to read images of page %d: %w", page+1, err))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Candidate{}, err)
				return
			}

			ordinal++
			c := Candidate{Ordinal: ordinal, Name: src.Name()}
			c.Data, c.Skip, c.Err = e.render(src)
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (e *Enumerator) render(src SourceImage) (data []byte, reason SkipReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, reason, err = nil, SkipDecode, fmt.Errorf("panic while decoding image: %v", r)
		}
	}()

	img, err := src.Decode()
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedImage):
			return nil, SkipUnsupported, err
		case errors.Is(err, ErrImageTooLarge):
			return nil, SkipTooLarge, err
		}
		return nil, SkipDecode, err
	}
	data, err = e.encoder.Encode(img, e.format)
	if err != nil {
		return nil, SkipEncode, err
	}
	return data, SkipNone, nil
}
