// Package display renders the converter state on its small status display:
// source label, incoming fps and outgoing fps.
package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Frame is one display update.
type Frame struct {
	Source  string
	FPSIn   float64
	FPSOut  float64
	Divider int
}

// Lines returns the three display lines.
func (f Frame) Lines() [3]string {
	src := f.Source
	if f.Divider > 1 {
		src = fmt.Sprintf("%s /%d", f.Source, f.Divider)
	}
	return [3]string{
		src,
		fmt.Sprintf("%5.2f FPS", f.FPSIn),
		fmt.Sprintf("%5.2f FPS", f.FPSOut),
	}
}

// Display shows frames.
type Display interface {
	Show(f Frame) error
}

// Terminal draws frames as a bordered panel on a terminal.
type Terminal struct {
	w     io.Writer
	style lipgloss.Style
	head  lipgloss.Style
	lost  lipgloss.Style
}

// NewTerminal creates a Terminal writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w: w,
		style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(16),
		head: lipgloss.NewStyle().Bold(true),
		lost: lipgloss.NewStyle().Faint(true),
	}
}

// Render returns the panel for f without writing it.
func (t *Terminal) Render(f Frame) string {
	l := f.Lines()
	in, out := l[1], l[2]
	if f.FPSIn == 0 {
		in = t.lost.Render(in)
	}
	if f.FPSOut == 0 {
		out = t.lost.Render(out)
	}
	body := lipgloss.JoinVertical(lipgloss.Left, t.head.Render(l[0]), in, out)
	return t.style.Render(body)
}

// Show writes the panel followed by a newline.
func (t *Terminal) Show(f Frame) error {
	_, err := fmt.Fprintln(t.w, t.Render(f))
	return err
}

// Fake records frames for tests.
type Fake struct {
	mu     sync.Mutex
	Frames []Frame
	Err    error
}

// Show records f.
func (d *Fake) Show(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Frames = append(d.Frames, f)
	return nil
}

// Last returns the most recent frame.
func (d *Fake) Last() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Frames) == 0 {
		return Frame{}, false
	}
	return d.Frames[len(d.Frames)-1], true
}
