// Package console prints colored replay status lines through a log.Logger.
package console

import (
	"fmt"
	"log"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")) // Green

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9")) // Red

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// Printer is safe to use as a nil pointer; all output is then dropped.
type Printer struct {
	log *log.Logger
}

func New(logger *log.Logger) *Printer {
	return &Printer{log: logger}
}

func (p *Printer) print(style lipgloss.Style, format string, args ...any) {
	if p == nil || p.log == nil {
		return
	}
	p.log.Print(style.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Progress(format string, args ...any) { p.print(progressStyle, format, args...) }

func (p *Printer) Warn(format string, args ...any) { p.print(progressStyle, format, args...) }

func (p *Printer) Instruction(text string) { p.print(okStyle, "Instruction: %s", text) }

func (p *Printer) Saved(path string) { p.print(okStyle, "Saved video to %s", path) }

func (p *Printer) Fail(format string, args ...any) { p.print(failStyle, format, args...) }

func (p *Printer) Detail(format string, args ...any) { p.print(dimStyle, format, args...) }
