package extract

import (
	"context"
	"errors"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// run is the state shared by the page tasks of one extraction call.
type run struct {
	doc      Document
	enum     *Enumerator
	registry Registry
	archive  *ArchiveWriter
	seq      *claimSequencer
	results  *outcomes
	base     string
	format   Format
	logger   logger.Logger
}

type retained struct {
	index int
	data  []byte
	fp    Fingerprint
}

// processPage enumerates and encodes concurrently with other pages, claims
// fingerprints in page order, then appends its entries.
func (r *run) processPage(ctx context.Context, page int) error {
	defer r.seq.release(page)

	log := r.logger.With(logger.Int("page", page+1))
	outcome := PageOutcome{Page: page + 1}
	var kept []retained

	for c, err := range r.enum.Page(ctx, r.doc, page) {
		if err != nil {
			reason := SkipPageFailed
			if ctx.Err() != nil {
				reason = SkipInterrupted
			}
			outcome.fail(reason, err)
			log.Warn("Failed to read page images", logger.Error(err))
			break
		}

		img := ImageOutcome{Ordinal: c.Ordinal, Name: c.Name}
		if c.Skip != SkipNone {
			img.Status, img.Reason = ImageSkipped, c.Skip
			if c.Err != nil {
				img.Error = c.Err.Error()
			}
			log.Warn("Skipping image",
				logger.Int("image", c.Ordinal),
				logger.String("name", c.Name),
				logger.String("reason", string(c.Skip)),
				logger.Error(c.Err))
		} else {
			img.Bytes = len(c.Data)
			kept = append(kept, retained{index: len(outcome.Images), data: c.Data, fp: FingerprintOf(c.Data)})
		}
		outcome.Images = append(outcome.Images, img)
	}

	if err := r.seq.wait(ctx, page); err != nil {
		for _, k := range kept {
			outcome.Images[k.index].Status = ImageSkipped
			outcome.Images[k.index].Reason = SkipInterrupted
		}
		outcome.fail(SkipInterrupted, err)
		r.results.set(outcome)
		return err
	}

	names := make([]string, len(kept))
	ordinal := 0
	for i, k := range kept {
		if !r.registry.TryClaim(k.fp) {
			outcome.Images[k.index].Status = ImageDuplicate
			outcome.Images[k.index].Reason = SkipDuplicate
			log.Debug("Duplicate image skipped",
				logger.Int("image", outcome.Images[k.index].Ordinal),
				logger.String("fingerprint", k.fp.String()))
			continue
		}
		ordinal++
		names[i] = EntryName(r.base, page+1, ordinal, r.format)
	}
	r.seq.release(page)

	for i, k := range kept {
		if names[i] == "" {
			continue
		}
		img := &outcome.Images[k.index]
		if err := r.archive.Append(names[i], k.data); err != nil {
			img.Status, img.Reason, img.Error = ImageSkipped, SkipArchiveWrite, err.Error()
			log.Warn("Failed to add image to archive", logger.String("entry", names[i]), logger.Error(err))
			continue
		}
		img.Status, img.Entry = ImageWritten, names[i]
		log.Debug("Added image to archive", logger.String("entry", names[i]), logger.Int("bytes", len(k.data)))
	}

	r.results.set(outcome)
	log.Info("Page processed",
		logger.Int("images", len(outcome.Images)),
		logger.Int("retained", ordinal))
	return nil
}

// pageFinished records pages that never reached results.set on their own.
func (r *run) pageFinished(page int, err error) {
	r.seq.release(page)
	switch {
	case err == nil:
	case errors.Is(err, errDropped):
		r.results.fail(page+1, SkipInterrupted, err)
	case errors.Is(err, errPagePanic):
		r.results.fail(page+1, SkipPagePanic, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.results.fail(page+1, SkipInterrupted, err)
	default:
		r.results.fail(page+1, SkipPageFailed, err)
	}
}
