// Package progress renders operation progress for interactive runs.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks completion across a batch of units (deployment targets,
// chain steps)
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time

	mu      sync.Mutex
	active  map[string]int
	enabled bool
}

// New creates a tracker. A disabled tracker swallows all updates, for
// non-interactive runs.
func New(enabled bool) *Tracker {
	return &Tracker{
		startTime: time.Now(),
		active:    make(map[string]int),
		enabled:   enabled,
	}
}

// SetTotal sets the number of units and renders the bar
func (t *Tracker) SetTotal(total int64, unit string) {
	t.total = total
	if !t.enabled {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Deploying"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the completion counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Start marks a unit as actively processing
func (t *Tracker) Start(name string) {
	t.mu.Lock()
	t.active[name]++
	count := len(t.active)
	t.mu.Unlock()

	if t.bar != nil {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Deploying to %s", name))
		} else {
			t.bar.Describe(fmt.Sprintf("Deploying (%d targets)", count))
		}
		t.bar.RenderBlank()
	}
}

// End marks a unit as done processing
func (t *Tracker) End(name string) {
	t.mu.Lock()
	t.active[name]--
	if t.active[name] <= 0 {
		delete(t.active, name)
	}
	t.mu.Unlock()
}

// Finish completes the bar and prints a trailing newline
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}
}

// Elapsed returns time since the tracker was created
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.startTime)
}

// NewSpinner returns an indeterminate spinner for operations with no
// measurable total, such as waiting on an import.
func NewSpinner(description string, enabled bool) *progressbar.ProgressBar {
	if !enabled {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}
