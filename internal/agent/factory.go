package agent

import (
	"log/slog"
	"sort"

	"github.com/aretw0/zenforge/internal/retry"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// Deps are the collaborators a step may need.
type Deps struct {
	Generator Generator
	Retriever ports.Retriever
	Citer     ports.Citer
	Logger    *slog.Logger
	// Template overrides the embedded prompt for a step when it returns a non-empty string.
	Template func(step string) string
	Sleep    retry.SleepFunc
}

type behaviorFactory func(tunables map[string]any, deps Deps) (Behavior, error)

var factories = map[string]behaviorFactory{
	"interpreter": func(t map[string]any, _ Deps) (Behavior, error) {
		return decodeTunables(Interpreter{MaxQuestions: 5}, t)
	},
	"planner": func(t map[string]any, _ Deps) (Behavior, error) {
		return decodeTunables(Planner{MaxResearchQuestions: 15}, t)
	},
	"grounder": func(t map[string]any, d Deps) (Behavior, error) {
		g, err := decodeTunables(Grounder{MaxQuestions: 3, MaxSources: 10}, t)
		if err != nil {
			return nil, err
		}
		g.Retriever, g.Citer, g.Logger = d.Retriever, d.Citer, d.Logger
		return g, nil
	},
	"auditor": func(map[string]any, Deps) (Behavior, error) {
		return Auditor{}, nil
	},
	"visualizer": func(map[string]any, Deps) (Behavior, error) {
		return Visualizer{}, nil
	},
	"judge": func(t map[string]any, _ Deps) (Behavior, error) {
		return DecodeJudge(t)
	},
}

// Known lists the step names that have a behavior.
func Known() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the contract for a configured step.
func Build(p Profile, tunables map[string]any, deps Deps) (*Contract, error) {
	factory, ok := factories[p.Name]
	if !ok {
		return nil, &domain.ConfigurationError{Subject: "step " + p.Name, Reason: "no behavior registered"}
	}
	behavior, err := factory(tunables, deps)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "step " + p.Name, Reason: err.Error()}
	}

	var opts []Option
	if deps.Logger != nil {
		opts = append(opts, WithLogger(deps.Logger))
	}
	if deps.Sleep != nil {
		opts = append(opts, WithSleep(deps.Sleep))
	}
	if deps.Template != nil {
		if tmpl := deps.Template(p.Name); tmpl != "" {
			opts = append(opts, WithTemplate(tmpl))
		}
	}
	return NewContract(p, behavior, deps.Generator, opts...), nil
}

// DecodeJudge reads the judge tunables, applying defaults.
func DecodeJudge(tunables map[string]any) (Judge, error) {
	return decodeTunables(Judge{ConsensusThreshold: 0.85, MaxDeliberationRounds: 7}, tunables)
}

func decodeTunables[T any](defaults T, tunables map[string]any) (T, error) {
	if len(tunables) == 0 {
		return defaults, nil
	}
	out := defaults
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return defaults, err
	}
	if err := dec.Decode(tunables); err != nil {
		return defaults, err
	}
	return out, nil
}
