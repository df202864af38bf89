package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"go.uber.org/multierr"

	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// Mode selects how pages are scheduled.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode accepts "", "auto", "sequential" and "parallel".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSequential, ModeParallel:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

// State is a step of one extraction call.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateSequential State = "sequential_extracting"
	StateParallel   State = "parallel_extracting"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Observer follows the progress of an extraction call. Methods may be
// called from several goroutines.
type Observer interface {
	StateChanged(state State)
	PageDone(page PageOutcome, done, total int)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)              {}
func (nopObserver) PageDone(PageOutcome, int, int) {}

// Options tune the extractor. Zero values fall back to DefaultOptions.
type Options struct {
	Workers               int
	ParallelPageThreshold int
	ParallelSizeThreshold int64
	ShutdownGrace         time.Duration
	TempDir               string
	MaxInMemoryBytes      int64
	MemoryFraction        float64
	JPEGQuality           int

	// CompressionLevel is a flate level for archive entries. Nil selects
	// flate.BestCompression; a pointer to flate.NoCompression stores entries.
	CompressionLevel *int

	// DisableCanonicalize keeps decoded color models as they are instead of
	// converting to NRGBA before encoding.
	DisableCanonicalize bool

	// MaxImagePixels bounds width*height of a single image. Larger images
	// are skipped as too large.
	MaxImagePixels int64
}

func DefaultOptions() Options {
	return Options{
		Workers:               runtime.NumCPU(),
		ParallelPageThreshold: 20,
		ParallelSizeThreshold: 10 << 20,
		ShutdownGrace:         60 * time.Second,
		MaxInMemoryBytes:      256 << 20,
		MemoryFraction:        0.4,
		CompressionLevel:      CompressionLevel(flate.BestCompression),
		JPEGQuality:           95,
		MaxImagePixels:        pdfdoc.DefaultMaxPixels,
	}
}

// CompressionLevel returns a pointer for Options.CompressionLevel.
func CompressionLevel(level int) *int {
	return &level
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.ParallelPageThreshold <= 0 {
		o.ParallelPageThreshold = d.ParallelPageThreshold
	}
	if o.ParallelSizeThreshold <= 0 {
		o.ParallelSizeThreshold = d.ParallelSizeThreshold
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = d.ShutdownGrace
	}
	if o.MaxInMemoryBytes <= 0 {
		o.MaxInMemoryBytes = d.MaxInMemoryBytes
	}
	if o.MemoryFraction <= 0 || o.MemoryFraction > 1 {
		o.MemoryFraction = d.MemoryFraction
	}
	if o.CompressionLevel == nil {
		o.CompressionLevel = d.CompressionLevel
	}
	if o.MaxImagePixels <= 0 {
		o.MaxImagePixels = d.MaxImagePixels
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = d.JPEGQuality
	}
	return o
}

// Request describes one extraction call.
type Request struct {
	Filename string
	Body     io.Reader
	Size     int64
	Format   Format
	// AllowDuplicates disables content deduplication.
	AllowDuplicates bool
	Mode            Mode
	Observer        Observer
}

func (r *Request) validate() error {
	if r.Body == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidRequest)
	}
	if r.Size < 0 {
		return fmt.Errorf("%w: negative payload size", ErrInvalidRequest)
	}
	f, err := ParseFormat(string(r.Format))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Format = f
	if r.Mode == "" {
		r.Mode = ModeAuto
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Observer == nil {
		r.Observer = nopObserver{}
	}
	return nil
}

// Result is a finished archive.
type Result struct {
	Archive  []byte
	Filename string
	Report   *Report
}

// Extractor runs the extract, dedup and archive pipeline.
type Extractor struct {
	opts     Options
	logger   logger.Logger
	selector *StorageSelector
	open     Opener
	encoder  Encoder
}

type Option func(*Extractor)

// WithOpener replaces the PDF parser.
func WithOpener(open Opener) Option {
	return func(e *Extractor) { e.open = open }
}

// WithEncoder replaces the image encoder.
func WithEncoder(enc Encoder) Option {
	return func(e *Extractor) { e.encoder = enc }
}

// WithMemoryProbe replaces the operating system memory probe.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(e *Extractor) {
		e.selector = NewStorageSelector(e.opts.MaxInMemoryBytes, e.opts.MemoryFraction, probe, e.logger)
	}
}

func NewExtractor(log logger.Logger, opts Options, options ...Option) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	opts = opts.withDefaults()
	e := &Extractor{
		opts:    opts,
		logger:  log.Named("extractor"),
		open:    NewPDFOpener(opts.MaxImagePixels),
		encoder: ImagingEncoder{JPEGQuality: opts.JPEGQuality, Canonicalize: !opts.DisableCanonicalize},
	}
	e.selector = NewStorageSelector(opts.MaxInMemoryBytes, opts.MemoryFraction, nil, e.logger)
	for _, o := range options {
		o(e)
	}
	return e
}

// Extract pulls every embedded image out of the document in req and returns
// them as one ZIP archive. Per-image and per-page problems end up in the
// report; only the fatal errors declared in this package are returned.
func (e *Extractor) Extract(ctx context.Context, req Request) (res *Result, err error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := logger.FromContext(ctx, e.logger).With(
		logger.String("filename", req.Filename),
		logger.String("format", string(req.Format)))
	obs := req.Observer
	obs.StateChanged(StateIdle)

	defer func() {
		if err != nil {
			log.Error("Image extraction failed", logger.Error(err))
			obs.StateChanged(StateFailed)
		}
	}()

	obs.StateChanged(StateLoading)
	src, err := e.load(ctx, req, log)
	if err != nil {
		return nil, err
	}
	onDisk := src.onDisk()
	defer func() {
		if rerr := src.release(); rerr != nil {
			if err != nil {
				err = multierr.Append(err, rerr)
				return
			}
			log.Warn("Failed to clean up temporary storage", logger.Error(rerr))
		}
	}()

	doc, err := e.openDocument(src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			log.Warn("Failed to close document", logger.Error(cerr))
		}
	}()

	pages := doc.NumPages()
	mode := e.selectMode(req.Mode, pages, src.size)
	log.Info("Starting image extraction",
		logger.Int("pages", pages),
		logger.Int64("size", src.size),
		logger.Bool("onDisk", onDisk),
		logger.String("mode", string(mode)),
		logger.Bool("dedup", !req.AllowDuplicates))

	var buf bytes.Buffer
	archive, err := NewArchiveWriter(&buf, *e.opts.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	seq := newClaimSequencer(pages)
	defer seq.stop()

	r := &run{
		doc:      doc,
		enum:     NewEnumerator(e.encoder, req.Format),
		registry: registryFor(!req.AllowDuplicates),
		archive:  archive,
		seq:      seq,
		results:  newOutcomes(),
		base:     BaseName(req.Filename),
		format:   req.Format,
		logger:   log,
	}

	if mode == ModeParallel {
		obs.StateChanged(StateParallel)
	} else {
		obs.StateChanged(StateSequential)
	}
	pool := NewWorkerPool(e.opts.Workers, e.opts.ShutdownGrace, log)
	var completed atomic.Int64
	err = pool.Run(ctx, pages, mode == ModeParallel, r.processPage, func(page int, perr error) {
		r.pageFinished(page, perr)
		outcome, _ := r.results.get(page + 1)
		obs.PageDone(outcome, int(completed.Add(1)), pages)
	})
	if err != nil {
		archive.Abort()
		return nil, err
	}

	obs.StateChanged(StateFinalizing)
	entries := archive.Len()
	if err := archive.Close(); err != nil {
		return nil, err
	}
	log.Debug("Archive finalized", logger.Int("entries", entries), logger.Int("bytes", buf.Len()))

	report := &Report{
		Filename:  req.Filename,
		Archive:   ArchiveName(req.Filename),
		Format:    req.Format,
		Mode:      mode,
		OnDisk:    onDisk,
		Dedup:     !req.AllowDuplicates,
		PageCount: pages,
		Pages:     r.results.snapshot(),
		Duration:  time.Since(start),
	}
	report.tally()

	log.Info("Image extraction completed",
		logger.Int("written", report.Written),
		logger.Int("duplicates", report.Duplicates),
		logger.Int("skipped", report.Skipped),
		logger.Int("failedPages", report.FailedPages),
		logger.Duration("duration", report.Duration))
	obs.StateChanged(StateDone)

	return &Result{Archive: buf.Bytes(), Filename: report.Archive, Report: report}, nil
}

func (e *Extractor) load(ctx context.Context, req Request, log logger.Logger) (*source, error) {
	decision := e.selector.Decide(ctx, req.Size)
	log.Debug("Storage decision",
		logger.Bool("onDisk", decision.UseDisk),
		logger.String("reason", decision.Reason),
		logger.Uint64("available", decision.Available))
	if decision.UseDisk {
		return loadOnDisk(e.opts.TempDir, req.Body)
	}
	return loadInMemory(req.Body)
}

func (e *Extractor) openDocument(src *source) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: parser panicked: %v", ErrOpenDocument, r)
		}
	}()
	doc, err = e.open(src.reader, src.size)
	if err != nil {
		if errors.Is(err, ErrOpenDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrOpenDocument, err)
	}
	return doc, nil
}

func (e *Extractor) selectMode(requested Mode, pages int, size int64) Mode {
	switch requested {
	case ModeSequential, ModeParallel:
		return requested
	}
	if pages > e.opts.ParallelPageThreshold || size > e.opts.ParallelSizeThreshold {
		return ModeParallel
	}
	return ModeSequential
}
