package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/feichai0017/pdf-image-extractor/internal/extract"
)

// pageProgress renders page completion of a local extraction. The bar is
// created on the first finished page, once the page count is known.
type pageProgress struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newPageProgress(out io.Writer) *pageProgress {
	return &pageProgress{out: out}
}

func (p *pageProgress) StateChanged(state extract.State) {
	if state == extract.StateFinalizing {
		p.finish()
	}
}

func (p *pageProgress) PageDone(page extract.PageOutcome, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("Extracting pages"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("pages"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.out)
			}),
		)
	}
	_ = p.bar.Set(done)
}

func (p *pageProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
