package status

import (
	"sync"
	"time"
)

// Phase identifies the stage a scan is in.
type Phase string

const (
	// PhaseIdle is the phase of a scan that has not started.
	PhaseIdle Phase = "idle"
	// PhaseInfrastructure runs infrastructure plugins against the targets.
	PhaseInfrastructure Phase = "infrastructure"
	// PhaseCrawl discovers URLs.
	PhaseCrawl Phase = "crawl"
	// PhaseAudit runs audit plugins against discovered URLs.
	PhaseAudit Phase = "audit"
	// PhaseFinished is set once the scan has finished, for any reason.
	PhaseFinished Phase = "finished"
)

// Status records running/paused state and timing of one scan.
// It is safe for concurrent use.
type Status struct {
	mu sync.RWMutex

	running    bool
	paused     bool
	phase      Phase
	plugin     string
	target     string
	startedAt  time.Time
	finishedAt time.Time

	now func() time.Time
}

// Snapshot is a point-in-time copy of a Status for display.
type Snapshot struct {
	Running   bool
	Paused    bool
	Phase     Phase
	Plugin    string
	Target    string
	StartedAt time.Time
	RunTime   time.Duration
}

// New returns an idle Status.
func New() *Status {
	return &Status{phase: PhaseIdle, now: time.Now}
}

// Start marks the scan as running and records the start time.
func (s *Status) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true
	s.paused = false
	s.startedAt = s.now()
	s.finishedAt = time.Time{}
}

// Pause sets the paused flag. It has no effect when the scan is not running.
func (s *Status) Pause(pause bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.paused = pause
}

// Stop clears the running and paused flags. It is safe to call repeatedly.
func (s *Status) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.paused = false
	s.plugin = ""
	s.target = ""
}

// ScanFinished records the end of the scan. The running flag is cleared so
// that a concurrent Stop waiting on IsRunning returns.
func (s *Status) ScanFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.paused = false
	s.phase = PhaseFinished
	if s.finishedAt.IsZero() {
		s.finishedAt = s.now()
	}
}

// IsRunning reports whether the scan is running.
func (s *Status) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IsPaused reports whether the scan is paused.
func (s *Status) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// SetPhase records the current phase.
func (s *Status) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Phase returns the current phase.
func (s *Status) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetCurrent records the plugin and the URL being worked on.
func (s *Status) SetCurrent(plugin, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugin = plugin
	s.target = target
}

// StartedAt returns when Start was last called.
func (s *Status) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// RunTime returns the elapsed time since Start, frozen once the scan has
// finished. It is zero before Start.
func (s *Status) RunTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runTimeLocked()
}

func (s *Status) runTimeLocked() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	end := s.finishedAt
	if end.IsZero() {
		end = s.now()
	}
	return end.Sub(s.startedAt)
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Running:   s.running,
		Paused:    s.paused,
		Phase:     s.phase,
		Plugin:    s.plugin,
		Target:    s.target,
		StartedAt: s.startedAt,
		RunTime:   s.runTimeLocked(),
	}
}
