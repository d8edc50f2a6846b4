// Package progress reports incremental progress of uploads and downloads.
//
// A Factory creates one Func per tracked operation. Callers invoke the Func
// with the number of items (or bytes) just finished. Reporting never alters
// control flow.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/logging"
)

// Func is called with an incremental count.
type Func func(n int64)

// Factory creates a Func for an operation of the given total size.
// isSize marks totals measured in bytes.
type Factory func(label string, total int64, isSize bool) Func

// Nop returns a Factory whose Funcs do nothing.
func Nop() Factory {
	return func(string, int64, bool) Func { return func(int64) {} }
}

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

// Reporter logs progress in 10% steps and optionally draws a terminal bar.
type Reporter struct {
	logger *logging.Logger
	out    io.Writer
	steps  int64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithBar draws a progress bar to w on every update.
func WithBar(w io.Writer) Option {
	return func(r *Reporter) { r.out = w }
}

// WithSteps sets how many log lines a complete operation produces.
func WithSteps(n int64) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.steps = n
		}
	}
}

// New creates a Reporter.
func New(logger *logging.Logger, opts ...Option) *Reporter {
	r := &Reporter{logger: logger, steps: 10}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Factory binds the reporter to ctx so log lines carry its correlation
// fields.
func (r *Reporter) Factory(ctx context.Context) Factory {
	return func(label string, total int64, isSize bool) Func {
		t := &tracker{
			ctx:    ctx,
			r:      r,
			label:  label,
			total:  total,
			isSize: isSize,
			step:   -1,
		}
		if r.out != nil {
			bar := progress.New(
				progress.WithGradient("#00ffff", "#00ff00"),
				progress.WithWidth(40),
			)
			t.bar = &bar
		}
		return t.add
	}
}

type tracker struct {
	mu     sync.Mutex
	ctx    context.Context
	r      *Reporter
	bar    *progress.Model
	label  string
	total  int64
	done   int64
	isSize bool
	step   int64
	closed bool
}

func (t *tracker) add(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.done += n

	if t.total <= 0 {
		t.r.logger.Debug(t.ctx, t.label, zap.String("done", t.format(t.done)))
		return
	}

	if t.done > t.total {
		t.done = t.total
	}
	finished := t.done == t.total

	if t.bar != nil {
		t.draw(finished)
	}

	step := t.done * t.r.steps / t.total
	if step == t.step && !finished {
		return
	}
	t.step = step

	t.r.logger.Info(t.ctx, t.label,
		zap.String("done", t.format(t.done)),
		zap.String("total", t.format(t.total)),
		zap.Int64("percent", t.done*100/t.total),
	)
	if finished {
		t.closed = true
	}
}

func (t *tracker) draw(finished bool) {
	pct := float64(t.done) / float64(t.total)
	line := fmt.Sprintf("\r%s %s %s",
		labelStyle.Render(t.label),
		t.bar.ViewAs(pct),
		dimStyle.Render(t.format(t.done)+"/"+t.format(t.total)),
	)
	if finished {
		line += "\n"
	}
	_, _ = io.WriteString(t.r.out, line)
}

func (t *tracker) format(v int64) string {
	if t.isSize {
		return HumanBytes(v)
	}
	return fmt.Sprintf("%d", v)
}

// HumanBytes renders a byte count with a binary unit suffix.
func HumanBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
