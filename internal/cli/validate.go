package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/zenforge/pkg/adapters/ollama"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// Validate checks the configuration and the hardware compatibility. With ping
// it also asks the endpoint for its models and reports configured ones that
// are not installed.
func Validate(ctx context.Context, app *App, ping bool, w io.Writer) error {
	warnings, err := app.Config.Validate()
	if err != nil {
		return err
	}

	gpu := app.Config.Hardware.GPU()
	fmt.Fprintf(w, "GPU: %s (%dMB, %dMB per model)\n", gpu.Name, gpu.VRAMMB, gpu.MaxModelVRAMMB)
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}

	pipelines := app.Config.Registry.PipelineMap()
	for _, m := range domain.Modes() {
		if steps, ok := pipelines[m]; ok {
			fmt.Fprintf(w, "%-9s %s\n", m+":", strings.Join(steps, " -> "))
		}
	}

	if !ping {
		fmt.Fprintln(w, "Configuration is valid.")
		return nil
	}

	client := ollama.New(app.Settings.OllamaBaseURL, ollama.WithLogger(app.Logger))
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", client.Endpoint(), err)
	}
	installed := make(map[string]bool, len(models))
	for _, m := range models {
		installed[m.Name] = true
	}

	var missing []string
	for _, name := range app.Config.Registry.Referenced() {
		model := app.Config.Registry.Agents[name].Model
		if !installed[model] {
			missing = append(missing, fmt.Sprintf("%s (%s)", model, name))
		}
	}
	fmt.Fprintf(w, "Endpoint %s reachable, %d models installed.\n", client.Endpoint(), len(models))
	if len(missing) > 0 {
		fmt.Fprintln(w, "Missing models, install them with `ollama pull`:")
		for _, m := range missing {
			fmt.Fprintln(w, "  - "+m)
		}
		return &domain.ConfigurationError{Subject: "models", Reason: fmt.Sprintf("%d configured models are not installed", len(missing))}
	}
	fmt.Fprintln(w, "Configuration is valid.")
	return nil
}

// ListModels prints the models installed on the endpoint, largest first.
func ListModels(ctx context.Context, lister ports.ModelLister, w io.Writer) error {
	models, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(w, "No models installed.")
		return nil
	}
	sort.Slice(models, func(i, j int) bool { return models[i].SizeBytes > models[j].SizeBytes })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSIZE")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%.1f GB\n", m.Name, float64(m.SizeBytes)/(1<<30))
	}
	return tw.Flush()
}
