package extract

import (
	"sort"
	"sync"
	"time"
)

// SkipReason explains why an image or page produced no archive entry.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipDecode       SkipReason = "decode_failed"
	SkipUnsupported  SkipReason = "unsupported_encoding"
	SkipTooLarge     SkipReason = "image_too_large"
	SkipEncode       SkipReason = "encode_failed"
	SkipDuplicate    SkipReason = "duplicate"
	SkipArchiveWrite SkipReason = "archive_write_failed"
	SkipPageFailed   SkipReason = "page_failed"
	SkipPagePanic    SkipReason = "page_panicked"
	SkipInterrupted  SkipReason = "interrupted"
)

// ImageStatus is the final state of one image object.
type ImageStatus string

const (
	ImageWritten   ImageStatus = "written"
	ImageDuplicate ImageStatus = "duplicate"
	ImageSkipped   ImageStatus = "skipped"
)

type ImageOutcome struct {
	Ordinal int         `json:"ordinal"`
	Name    string      `json:"name"`
	Status  ImageStatus `json:"status"`
	Reason  SkipReason  `json:"reason,omitempty"`
	Entry   string      `json:"entry,omitempty"`
	Bytes   int         `json:"bytes,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type PageOutcome struct {
	Page   int            `json:"page"` // 1-based
	Images []ImageOutcome `json:"images"`
	Failed bool           `json:"failed,omitempty"`
	Reason SkipReason     `json:"reason,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (p *PageOutcome) fail(reason SkipReason, err error) {
	p.Failed = true
	p.Reason = reason
	if err != nil {
		p.Error = err.Error()
	}
}

// Report summarizes one extraction call.
type Report struct {
	Filename    string        `json:"filename"`
	Archive     string        `json:"archive"`
	Format      Format        `json:"format"`
	Mode        Mode          `json:"mode"`
	OnDisk      bool          `json:"onDisk"`
	Dedup       bool          `json:"dedup"`
	PageCount   int           `json:"pageCount"`
	Pages       []PageOutcome `json:"pages"`
	Written     int           `json:"written"`
	Duplicates  int           `json:"duplicates"`
	Skipped     int           `json:"skipped"`
	FailedPages int           `json:"failedPages"`
	Duration    time.Duration `json:"duration"`
}

// Entries lists the archive entry names in page order.
func (r *Report) Entries() []string {
	var names []string
	for _, p := range r.Pages {
		for _, img := range p.Images {
			if img.Status == ImageWritten {
				names = append(names, img.Entry)
			}
		}
	}
	return names
}

func (r *Report) tally() {
	r.Written, r.Duplicates, r.Skipped, r.FailedPages = 0, 0, 0, 0
	for _, p := range r.Pages {
		if p.Failed {
			r.FailedPages++
		}
		for _, img := range p.Images {
			switch img.Status {
			case ImageWritten:
				r.Written++
			case ImageDuplicate:
				r.Duplicates++
			default:
				r.Skipped++
			}
		}
	}
}

// outcomes collects page results from concurrent tasks. Abandoned tasks may
// still report after the call returned, so every access is locked.
type outcomes struct {
	mu    sync.Mutex
	pages map[int]*PageOutcome
}

func newOutcomes() *outcomes {
	return &outcomes{pages: make(map[int]*PageOutcome)}
}

func (o *outcomes) set(p PageOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[p.Page] = &p
}

// fail marks a page failed, keeping whatever images it already recorded.
func (o *outcomes) fail(page int, reason SkipReason, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pages[page]
	if !ok {
		p = &PageOutcome{Page: page}
		o.pages[page] = p
	}
	if !p.Failed {
		p.fail(reason, err)
	}
}

func (o *outcomes) snapshot() []PageOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	pages := make([]PageOutcome, 0, len(o.pages))
	for _, p := range o.pages {
		cp := *p
		cp.Images = append([]ImageOutcome(nil), p.Images...)
		pages = append(pages, cp)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages
}

func (o *outcomes) get(page int) (PageOutcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pages[page]
	if !ok {
		return PageOutcome{Page: page}, false
	}
	cp := *p
	cp.Images = append([]ImageOutcome(nil), p.Images...)
	return cp, true
}
