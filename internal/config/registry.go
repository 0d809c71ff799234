// Package config loads the step registry, hardware constraints and
// environment settings, applying embedded defaults.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aretw0/zenforge/internal/agent"
	"github.com/aretw0/zenforge/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

const (
	AgentsFile   = "agents.yaml"
	HardwareFile = "hardware.yaml"
	PromptsDir   = "prompts"
)

// Defaults applied to agents that omit them.
const (
	DefaultTemperature = 0.3
	DefaultMaxRetries  = 3
	DefaultMaxTokens   = 4096
	DefaultBackoff     = time.Second
)

// AgentSpec is one entry of the agents map.
type AgentSpec struct {
	Model       string   `yaml:"model"`
	VRAMMB      int      `yaml:"vram_mb"`
	Role        string   `yaml:"role"`
	Temperature *float64 `yaml:"temperature"`
	MaxRetries  int      `yaml:"max_retries"`
	BackoffMS   int      `yaml:"backoff_ms"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Tunables holds step specific keys such as max_questions.
	Tunables map[string]any `yaml:",inline"`
}

type PipelineStep struct {
	Agent string `yaml:"agent"`
}

type Pipeline struct {
	Steps []PipelineStep `yaml:"steps"`
}

// Registry is the parsed agents.yaml.
type Registry struct {
	Agents    map[string]AgentSpec `yaml:"agents"`
	Pipelines map[string]Pipeline  `yaml:"pipelines"`
}

// Profile returns the runtime profile of a configured agent.
func (r *Registry) Profile(name string) (agent.Profile, error) {
	spec, ok := r.Agents[name]
	if !ok {
		return agent.Profile{}, &domain.ConfigurationError{Subject: "agent " + name, Reason: "not defined"}
	}
	p := agent.Profile{
		Name:        name,
		Model:       spec.Model,
		FootprintMB: spec.VRAMMB,
		MaxTokens:   DefaultMaxTokens,
		MaxRetries:  DefaultMaxRetries,
		Backoff:     DefaultBackoff,
	}
	temperature := DefaultTemperature
	if spec.Temperature != nil {
		temperature = *spec.Temperature
	}
	p.Temperature = &temperature
	if spec.MaxTokens > 0 {
		p.MaxTokens = spec.MaxTokens
	}
	if spec.MaxRetries > 0 {
		p.MaxRetries = spec.MaxRetries
	}
	if spec.BackoffMS > 0 {
		p.Backoff = time.Duration(spec.BackoffMS) * time.Millisecond
	}
	return p, nil
}

// PipelineMap returns mode → ordered step names.
func (r *Registry) PipelineMap() map[domain.Mode][]string {
	out := make(map[domain.Mode][]string, len(r.Pipelines))
	for mode, p := range r.Pipelines {
		names := make([]string, 0, len(p.Steps))
		for _, s := range p.Steps {
			names = append(names, s.Agent)
		}
		out[domain.Mode(mode)] = names
	}
	return out
}

// Referenced lists the agents used by at least one pipeline, sorted.
func (r *Registry) Referenced() []string {
	seen := map[string]struct{}{}
	for _, p := range r.Pipelines {
		for _, s := range p.Steps {
			seen[s.Agent] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every pipeline references defined agents that have a model
// and a known behavior, and that every mode name is valid.
func (r *Registry) Validate() error {
	var errs []error
	if len(r.Agents) == 0 {
		errs = append(errs, &domain.ConfigurationError{Subject: AgentsFile, Reason: "no agents defined"})
	}
	known := map[string]bool{}
	for _, n := range agent.Known() {
		known[n] = true
	}
	for name, spec := range r.Agents {
		if spec.Model == "" {
			errs = append(errs, &domain.ConfigurationError{Subject: "agent " + name, Reason: "model is empty"})
		}
		if spec.VRAMMB < 0 {
			errs = append(errs, &domain.ConfigurationError{Subject: "agent " + name, Reason: "vram_mb is negative"})
		}
	}

	modes := make([]string, 0, len(r.Pipelines))
	for m := range r.Pipelines {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	for _, mode := range modes {
		if !domain.Mode(mode).Valid() {
			errs = append(errs, &domain.ConfigurationError{Subject: "pipeline " + mode, Reason: "unknown mode"})
		}
		p := r.Pipelines[mode]
		if len(p.Steps) == 0 {
			errs = append(errs, &domain.ConfigurationError{Subject: "pipeline " + mode, Reason: "no steps"})
		}
		for _, s := range p.Steps {
			if _, ok := r.Agents[s.Agent]; !ok {
				errs = append(errs, &domain.ConfigurationError{Subject: "pipeline " + mode, Reason: fmt.Sprintf("agent %q is not defined", s.Agent)})
				continue
			}
			if !known[s.Agent] {
				errs = append(errs, &domain.ConfigurationError{Subject: "pipeline " + mode, Reason: fmt.Sprintf("agent %q has no behavior", s.Agent)})
			}
		}
	}
	return errors.Join(errs...)
}

// Config is the complete file based configuration.
type Config struct {
	Dir      string
	Registry Registry
	Hardware Hardware
	prompts  fs.FS
}

// Load reads agents.yaml and hardware.yaml from dir, falling back to the
// embedded defaults for any file that is absent. An empty dir uses only defaults.
func Load(dir string) (*Config, error) {
	cfg := &Config{Dir: dir}
	if err := readYAML(dir, AgentsFile, &cfg.Registry); err != nil {
		return nil, err
	}
	if err := readYAML(dir, HardwareFile, &cfg.Hardware); err != nil {
		return nil, err
	}
	if dir != "" {
		cfg.prompts = os.DirFS(filepath.Join(dir, PromptsDir))
	}
	return cfg, nil
}

func readYAML(dir, name string, out any) error {
	var data []byte
	var err error
	if dir != "" {
		data, err = os.ReadFile(filepath.Join(dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &domain.ConfigurationError{Subject: name, Reason: err.Error()}
		}
	}
	if data == nil {
		data, err = defaults.ReadFile("defaults/" + name)
		if err != nil {
			return &domain.ConfigurationError{Subject: name, Reason: err.Error()}
		}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &domain.ConfigurationError{Subject: name, Reason: err.Error()}
	}
	return nil
}

// Validate checks the registry and the hardware compatibility together.
// Warnings list agents whose footprint exceeds the per-model budget.
func (c *Config) Validate() (warnings []string, err error) {
	if err := c.Registry.Validate(); err != nil {
		return nil, err
	}
	return c.Hardware.Check(&c.Registry)
}

// Template returns the prompt override for step, or "" to use the embedded one.
func (c *Config) Template(step string) string {
	if c.prompts == nil {
		return ""
	}
	b, err := fs.ReadFile(c.prompts, step+".md")
	if err != nil {
		return ""
	}
	return string(b)
}
