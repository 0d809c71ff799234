// Package tui holds terminal presentation: banner, progress lines and the
// markdown preview of the final artifact.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	stepStyle     = lipgloss.NewStyle().Bold(true).Width(12)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Progress prints one line per pipeline event. The zero value is not usable; use NewProgress.
type Progress struct {
	mu    sync.Mutex
	w     io.Writer
	total int
	done  int
	plain bool
}

// NewProgress reports to w for a pipeline of total steps. plain disables styling.
func NewProgress(w io.Writer, total int, plain bool) *Progress {
	return &Progress{w: w, total: total, plain: plain}
}

func (p *Progress) style(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

// Hooks returns the callbacks to register with the engine.
func (p *Progress) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepStart: func(_ context.Context, e *domain.StepEvent) {
			p.mu.Lock()
			defer p.mu.Unlock()
			fmt.Fprintf(p.w, "%s %s %s\n",
				p.style(dimStyle, fmt.Sprintf("[%d/%d]", p.done+1, p.total)),
				p.style(stepStyle, e.Step),
				p.style(dimStyle, "thinking..."))
		},
		OnStepFinish: func(_ context.Context, e *domain.StepEvent) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.done++
			status := p.style(okStyle, "done")
			if e.Degraded {
				status = p.style(degradedStyle, "degraded")
			}
			fmt.Fprintf(p.w, "%s %s %s %s\n",
				p.style(dimStyle, fmt.Sprintf("[%d/%d]", p.done, p.total)),
				p.style(stepStyle, e.Step),
				status,
				p.style(dimStyle, fmt.Sprintf("(%d attempt%s, %s)", e.Attempts, plural(e.Attempts), e.Duration.Round(time.Millisecond))))
		},
		OnStepError: func(_ context.Context, e *domain.StepEvent) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.done++
			fmt.Fprintf(p.w, "%s %s %s %v\n",
				p.style(dimStyle, fmt.Sprintf("[%d/%d]", p.done, p.total)),
				p.style(stepStyle, e.Step),
				p.style(failStyle, "failed"),
				e.Err)
		},
		OnDeliberation: func(_ context.Context, e *domain.DeliberationEvent) {
			p.mu.Lock()
			defer p.mu.Unlock()
			fmt.Fprintf(p.w, "%s round %d, consensus %.2f\n", p.style(degradedStyle, "judge asked for revision:"), e.Round, e.Score)
		},
	}
}

// Summary renders the closing lines of a run.
func Summary(run *domain.RunContext, path string, plain bool) string {
	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("37"))
	line := func(k, v string) {
		if plain {
			fmt.Fprintf(&b, "%-12s %s\n", k+":", v)
			return
		}
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render(fmt.Sprintf("%-12s", k+":")), v)
	}
	if plain {
		b.WriteString("Run complete\n")
	} else {
		b.WriteString(title.Render("Run complete") + "\n")
	}
	line("session", run.SessionID)
	line("mode", string(run.Mode))
	if run.Consensus != nil {
		line("consensus", fmt.Sprintf("%.2f", *run.Consensus))
	}
	line("rounds", fmt.Sprintf("%d", run.Round))
	line("errors", fmt.Sprintf("%d", len(run.Errors)))
	if path != "" {
		line("output", path)
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
