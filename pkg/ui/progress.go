package ui

import (
	"io"
	"math"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// UnknownMax is passed to Initialize when the total is not known; the bar
// renders as a spinner.
const UnknownMax = -1

// epsilon absorbs float drift when fractional increments add up to a whole
const epsilon = 1e-9

// Reporter tracks harvest progress in items. It is safe for concurrent use.
type Reporter interface {
	// Initialize sets the total and label. Called once per session, on the
	// first page.
	Initialize(max int, label string)
	// Advance adds a possibly fractional amount.
	Advance(delta float64)
	// Settle raises the displayed value to value, never lowering it.
	Settle(value int)
	// Finalize marks the session complete.
	Finalize()
	// Value returns the displayed value.
	Value() int
}

// Renderer draws progress. Tracker never calls it concurrently.
type Renderer interface {
	Start(max int, label string)
	Set(value int)
	Finish()
}

// Tracker is the Reporter used by harvest sessions. It accumulates
// fractional increments and shows their floor, which never decreases and
// never exceeds the total once known.
type Tracker struct {
	mu       sync.Mutex
	renderer Renderer
	max      int
	known    bool
	acc      float64
	shown    int
	label    string
	finished bool
}

// NewTracker creates a tracker drawing through r. A nil renderer draws
// nothing.
func NewTracker(r Renderer) *Tracker {
	if r == nil {
		r = nopRenderer{}
	}
	return &Tracker{renderer: r}
}

// Initialize sets the total. A negative max leaves the total unknown.
func (t *Tracker) Initialize(max int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.label = label
	t.known = max >= 0
	t.max = max
	if t.known {
		t.shown = t.clamp(t.shown)
	}
	t.renderer.Start(max, label)
	if t.shown > 0 {
		t.renderer.Set(t.shown)
	}
}

// Advance adds delta to the accumulated progress
func (t *Tracker) Advance(delta float64) {
	if delta <= 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.acc += delta
	t.raise(int(math.Floor(t.acc + epsilon)))
}

// Settle raises both the displayed and accumulated value to value
func (t *Tracker) Settle(value int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if float64(value) > t.acc {
		t.acc = float64(value)
	}
	t.raise(value)
}

// Finalize moves the display to the total and completes it
func (t *Tracker) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}
	t.finished = true
	if t.known && t.shown < t.max {
		t.shown = t.max
		t.renderer.Set(t.shown)
	}
	t.renderer.Finish()
}

// Value returns the displayed value
func (t *Tracker) Value() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shown
}

// Max returns the total and whether it is known
func (t *Tracker) Max() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max, t.known
}

func (t *Tracker) raise(v int) {
	v = t.clamp(v)
	if v <= t.shown {
		return
	}
	t.shown = v
	t.renderer.Set(v)
}

func (t *Tracker) clamp(v int) int {
	if t.known && v > t.max {
		return t.max
	}
	return v
}

type nopRenderer struct{}

func (nopRenderer) Start(int, string) {}
func (nopRenderer) Set(int)           {}
func (nopRenderer) Finish()           {}

// BarRenderer draws progress with a terminal progress bar
type BarRenderer struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewBarRenderer creates a renderer writing to out
func NewBarRenderer(out io.Writer) *BarRenderer {
	return &BarRenderer{out: out}
}

// Start creates the bar for a session
func (b *BarRenderer) Start(max int, label string) {
	b.bar = progressbar.NewOptions(max,
		progressbar.OptionSetWriter(b.out),
		progressbar.OptionSetDescription("["+label+"]"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { io.WriteString(b.out, "\n") }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Set moves the bar to value
func (b *BarRenderer) Set(value int) {
	if b.bar != nil {
		_ = b.bar.Set(value)
	}
}

// Finish completes the bar
func (b *BarRenderer) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
