// Package indicator reports dump progress
package indicator

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Indicator receives progress of a dump measured in rows written
type Indicator interface {
	// Start is called once with the estimated total; total <= 0 means unknown
	Start(total int64)
	Inc(n int64)
	Finish()
}

// Console draws a progress bar on a terminal stream, stderr by default
type Console struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewConsole creates a console indicator writing to stderr
func NewConsole() *Console {
	return NewConsoleTo(os.Stderr)
}

// NewConsoleTo creates a console indicator writing to w
func NewConsoleTo(w io.Writer) *Console {
	return &Console{w: w}
}

// Start draws a bar for total rows, or a spinner when the total is unknown
func (c *Console) Start(total int64) {
	if total <= 0 {
		total = -1 // spinner
	}
	c.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(c.w),
		progressbar.OptionSetDescription("dumping"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(c.w, "\n") }),
	)
}

// Inc advances the bar by n rows
func (c *Console) Inc(n int64) {
	if c.bar == nil {
		return
	}
	// Size estimates are approximate; grow the bar instead of overflowing it
	if limit := c.bar.GetMax64(); limit > 0 && c.bar.State().CurrentNum+n > limit {
		c.bar.ChangeMax64(c.bar.State().CurrentNum + n)
	}
	_ = c.bar.Add64(n)
}

// Finish completes the bar
func (c *Console) Finish() {
	if c.bar == nil {
		return
	}
	_ = c.bar.Finish()
}

// Silent discards progress. It is used when the dump itself goes to stdout
type Silent struct{}

// Start does nothing
func (Silent) Start(int64) {}

// Inc does nothing
func (Silent) Inc(int64) {}

// Finish does nothing
func (Silent) Finish() {}
