package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// ErrNoInput is returned when stdin closes while a prompt is waiting.
var ErrNoInput = errors.New("input closed")

// Prompter reads answers line by line. Prompts honour context cancellation
// even while the terminal read is blocked.
type Prompter struct {
	out   io.Writer
	lines chan string
}

// NewPrompter starts reading in. On a terminal the reader is upgraded to the
// platform console so line editing behaves.
func NewPrompter(ctx context.Context, in io.Reader, out io.Writer) *Prompter {
	if r, err := lifecycle.UpgradeTerminal(in); err == nil {
		in = r
	}
	p := &Prompter{out: out, lines: make(chan string)}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(p.lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 4096), domain.MaxBriefSize+1)
		for sc.Scan() {
			select {
			case p.lines <- sc.Text():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return sc.Err()
	})
	return p
}

// Ask prints prompt and returns the trimmed answer.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", ErrNoInput
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Confirm asks a yes/no question. An empty answer accepts.
func (p *Prompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	answer, err := p.Ask(ctx, prompt+" [Y/n] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Questioner produces the clarifying questions for a request.
type Questioner interface {
	Questions(ctx context.Context, req ports.RunRequest) ([]string, error)
}

// AskBrief prompts until a non-empty brief is entered.
func AskBrief(ctx context.Context, p *Prompter) (string, error) {
	fmt.Fprintln(p.out, "\nWhat would you like to know or create?")
	for {
		brief, err := p.Ask(ctx, "> ")
		if err != nil {
			return "", err
		}
		if brief != "" {
			return brief, nil
		}
	}
}

// Interview collects answers to the clarifying questions into req and asks
// for confirmation of the plan. It reports false when the user declines.
// Questions already answered through req.Clarifications are not asked again.
func Interview(ctx context.Context, p *Prompter, q Questioner, req *ports.RunRequest, steps []string) (bool, error) {
	questions, err := q.Questions(ctx, *req)
	if err != nil {
		return false, err
	}

	var pending []string
	for _, question := range questions {
		if _, ok := req.Clarifications[question]; !ok {
			pending = append(pending, question)
		}
	}
	if len(pending) > 0 {
		fmt.Fprintln(p.out, "\nI have some clarifying questions:")
		answers := make(map[string]string, len(req.Clarifications)+len(pending))
		for k, v := range req.Clarifications {
			answers[k] = v
		}
		for i, question := range pending {
			fmt.Fprintf(p.out, "\n%d. %s\n", i+1, question)
			answer, err := p.Ask(ctx, "> ")
			if err != nil {
				return false, err
			}
			if answer != "" {
				answers[question] = answer
			}
		}
		req.Clarifications = answers
	}

	fmt.Fprintln(p.out, "\nExecution Plan:")
	fmt.Fprintf(p.out, "  Mode:   %s\n", req.Mode)
	fmt.Fprintf(p.out, "  Agents: %s\n", strings.Join(steps, " -> "))
	return p.Confirm(ctx, "\nProceed?")
}
