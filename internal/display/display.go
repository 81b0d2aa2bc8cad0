// Package display provides sinks that render the three-line lyrics
// window: the previous, current and upcoming line.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/baileyboy0304/music-companion/internal/lyricsync"
)

// Terminal renders the lyrics window in place on a terminal, rewriting
// the same three rows on every update.
type Terminal struct {
	mu         sync.Mutex
	w          io.Writer
	rowsDrawn  int
	edgeStyle  lipgloss.Style
	focusStyle lipgloss.Style
}

// NewTerminal creates a terminal sink writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:          w,
		edgeStyle:  lipgloss.NewStyle().Faint(true),
		focusStyle: lipgloss.NewStyle().Bold(true),
	}
}

// Render draws the window. Three empty lines clear it.
func (t *Terminal) Render(prev, cur, next string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	if t.rowsDrawn > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", t.rowsDrawn)
	}
	for _, row := range []string{
		t.edgeStyle.Render(prev),
		t.focusStyle.Render(cur),
		t.edgeStyle.Render(next),
	} {
		b.WriteString("\x1b[2K")
		b.WriteString(row)
		b.WriteString("\n")
	}

	_, err := io.WriteString(t.w, b.String())
	t.rowsDrawn = 3
	if err != nil {
		return fmt.Errorf("write lyrics window: %w", err)
	}
	return nil
}

// Log emits the current line to a structured logger. Useful headless
// and as a secondary sink while debugging sync timing.
type Log struct {
	logger *log.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Render(prev, cur, next string) error {
	if prev == "" && cur == "" && next == "" {
		l.logger.Info("lyrics cleared")
		return nil
	}
	l.logger.Info("lyrics", "line", cur)
	return nil
}

// Multi fans one render out to several sinks, returning the first
// error after all sinks ran.
type Multi []lyricsync.Sink

func (m Multi) Render(prev, cur, next string) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Render(prev, cur, next); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
