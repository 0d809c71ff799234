package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/zenforge"
	"github.com/aretw0/zenforge/internal/presentation/graph"
	"github.com/aretw0/zenforge/internal/presentation/tui"
	"github.com/aretw0/zenforge/internal/render"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/aretw0/zenforge/pkg/ports"
	"golang.org/x/term"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	Brief          string
	Mode           string
	OutputDir      string
	SessionID      string
	Clarifications map[string]string
	SaveSession    bool
	DryRun         bool
	SingleModel    string
	FastMode       bool
	NoRich         bool
	// Interactive prompts for a missing brief, asks the interpreter's
	// clarifying questions and confirms before running.
	Interactive bool
	// Stdin feeds interactive prompts. Defaults to os.Stdin.
	Stdin io.Reader
	// Stdout receives progress, the preview and the summary. Defaults to os.Stdout.
	Stdout io.Writer
}

// Run executes one pipeline and writes its artifact. A dry run only prints the plan.
func Run(ctx context.Context, app *App, opts RunOptions) (*domain.RunContext, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	mode, err := app.Mode(opts.Mode)
	if err != nil {
		return nil, err
	}

	var prompter *Prompter
	if opts.Interactive {
		in := opts.Stdin
		if in == nil {
			in = os.Stdin
		}
		prompter = NewPrompter(ctx, in, out)
		if strings.TrimSpace(opts.Brief) == "" {
			if opts.Brief, err = AskBrief(ctx, prompter); err != nil {
				return nil, err
			}
		}
	}
	brief, err := domain.SanitizeBrief(opts.Brief)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "brief", Reason: err.Error()}
	}
	steps, ok := app.Config.Registry.PipelineMap()[mode]
	if !ok {
		return nil, &domain.ConfigurationError{Subject: "mode", Reason: fmt.Sprintf("no pipeline for mode %q", mode)}
	}
	single, footprint := app.Settings.SingleModel(opts.SingleModel, opts.FastMode)

	if opts.DryRun {
		return nil, printPlan(out, app, mode, steps, single, footprint)
	}

	rich := !opts.NoRich && isTTY(out)
	if rich {
		tui.PrintBanner(out)
	}
	progress := tui.NewProgress(out, len(steps), !rich)

	forgeOpts := []zenforge.Option{
		zenforge.WithLifecycleHooks(observability.ComposeLifecycle(
			app.Metrics.LifecycleHooks(),
			observability.LogHooks(app.Logger),
			progress.Hooks(),
		)),
		zenforge.WithSingleModel(single, footprint),
	}
	if opts.SaveSession {
		forgeOpts = append(forgeOpts, zenforge.WithStore(app.Store()))
	}
	forge, err := app.Forge(forgeOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := forge.Release(context.WithoutCancel(ctx)); err != nil {
			app.Logger.Warn("failed to release model", "err", err)
		}
	}()

	if single != "" {
		fmt.Fprintf(out, "single-model mode: %s (%dMB)\n", single, footprint)
	}

	req := ports.RunRequest{
		SessionID:      opts.SessionID,
		Brief:          brief,
		Mode:           mode,
		Clarifications: opts.Clarifications,
	}
	if prompter != nil {
		proceed, err := Interview(ctx, prompter, forge, &req, steps)
		if err != nil {
			return nil, err
		}
		if !proceed {
			fmt.Fprintln(out, "Cancelled.")
			return nil, nil
		}
	}

	run, runErr := forge.Run(ctx, req)
	if run == nil {
		return nil, runErr
	}

	var path string
	if run.Artifact != nil {
		dir := opts.OutputDir
		if dir == "" {
			dir = app.Settings.OutputDir
		}
		renderer := render.New(dir, render.WithLogger(app.Logger), render.WithTemplateDir(app.Config.Dir))
		res, err := renderer.Write(run)
		if err != nil {
			app.Logger.Error("failed to write artifact", "session_id", run.SessionID, "err", err)
		} else {
			path = res.Path
			if rich && !res.Fallback {
				preview(out, res.Markdown)
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, tui.Summary(run, path, !rich))
	return run, runErr
}

func preview(w io.Writer, markdown string) {
	width := 100
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && cols < width {
			width = cols
		}
	}
	renderMD, err := tui.NewRenderer(width)
	if err != nil {
		return
	}
	if s, err := renderMD(markdown); err == nil {
		fmt.Fprint(w, s)
	}
}

func printPlan(w io.Writer, app *App, mode domain.Mode, steps []string, single string, footprint int) error {
	fmt.Fprintf(w, "Pipeline %s (%d steps)\n\n", mode, len(steps))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tMODEL\tVRAM (MB)")
	for _, s := range steps {
		p, err := app.Config.Registry.Profile(s)
		if err != nil {
			return err
		}
		model, mb := p.Model, p.FootprintMB
		if single != "" {
			model, mb = single, footprint
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s, model, mb)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, graph.GeneratePipeline(mode, steps, nil))
	return nil
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
