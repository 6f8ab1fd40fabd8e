package status

import (
	"sync"
	"time"
)

// Progress estimates completion of a scan from queued and finished jobs.
// The total grows while the crawl phase discovers new work, so the
// percentage can move backwards.
type Progress struct {
	mu sync.Mutex

	total     int64
	done      int64
	running   bool
	startedAt time.Time

	now func() time.Time
}

// NewProgress returns a Progress with no work queued.
func NewProgress() *Progress {
	return &Progress{now: time.Now}
}

// AddTotal adds n queued jobs. The first call starts the clock.
func (p *Progress) AddTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = p.now()
		p.running = true
	}
	p.total += int64(n)
}

// Done marks n jobs as finished.
func (p *Progress) Done(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(n)
	if p.done > p.total {
		p.done = p.total
	}
}

// Percent returns completion in the range [0, 100].
func (p *Progress) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total == 0 {
		return 0
	}
	return float64(p.done) / float64(p.total) * 100
}

// ETA estimates the remaining time from the average job duration so far.
// It returns zero when nothing has finished yet.
func (p *Progress) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == 0 || p.startedAt.IsZero() {
		return 0
	}
	elapsed := p.now().Sub(p.startedAt)
	perJob := elapsed / time.Duration(p.done)
	return perJob * time.Duration(p.total-p.done)
}

// Counts returns the finished and total job counts.
func (p *Progress) Counts() (done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total
}

// Stop freezes the progress.
func (p *Progress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// IsRunning reports whether work was queued and Stop has not been called.
func (p *Progress) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
