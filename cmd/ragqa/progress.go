package main

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// progress draws a bar once the total is known. Updates may arrive out of
// order from concurrent workers; the bar only moves forward.
type progress struct {
	mu   sync.Mutex
	w    io.Writer
	desc string
	bar  *progressbar.ProgressBar
	done int
}

func newProgress(w io.Writer, desc string) *progress {
	return &progress{w: w, desc: desc}
}

func (p *progress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(p.desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	if done > p.done {
		p.done = done
		_ = p.bar.Set(done)
	}
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.done = 0
	}
}
