package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/zenforge/pkg/domain"
)

type GPU struct {
	Name           string `yaml:"name"`
	VRAMMB         int    `yaml:"vram_mb"`
	MaxModelVRAMMB int    `yaml:"max_model_vram_mb"`
}

type Constraints struct {
	MaxConcurrentModels     int  `yaml:"max_concurrent_models"`
	OllamaKeepAlive         int  `yaml:"ollama_keep_alive"`
	ModelSwapTimeoutSeconds int  `yaml:"model_swap_timeout_seconds"`
	ModelLoadRetries        int  `yaml:"model_load_retries"`
	SettleSeconds           *int `yaml:"settle_seconds"`
}

// Hardware is the parsed hardware.yaml.
type Hardware struct {
	Spec struct {
		GPU         GPU         `yaml:"gpu"`
		Constraints Constraints `yaml:"constraints"`
	} `yaml:"hardware"`
}

func (h *Hardware) GPU() GPU                 { return h.Spec.GPU }
func (h *Hardware) Constraints() Constraints { return h.Spec.Constraints }

// SwapTimeout is the budget for one load or unload round-trip.
func (h *Hardware) SwapTimeout() time.Duration {
	if s := h.Spec.Constraints.ModelSwapTimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 2 * time.Minute
}

// Settle is the pause between unloading one model and loading the next.
func (h *Hardware) Settle() time.Duration {
	if s := h.Spec.Constraints.SettleSeconds; s != nil && *s >= 0 {
		return time.Duration(*s) * time.Second
	}
	return 2 * time.Second
}

// LoadRetries is the number of warm round-trips a load may take.
func (h *Hardware) LoadRetries() int {
	if n := h.Spec.Constraints.ModelLoadRetries; n > 0 {
		return n
	}
	return 3
}

// Check enforces the single resident model constraint and that at least one
// referenced agent fits the per-model budget.
func (h *Hardware) Check(r *Registry) ([]string, error) {
	c := h.Spec.Constraints
	if c.MaxConcurrentModels != 1 {
		return nil, &domain.ConfigurationError{
			Subject: HardwareFile,
			Reason:  fmt.Sprintf("max_concurrent_models must be 1, got %d", c.MaxConcurrentModels),
		}
	}
	if c.OllamaKeepAlive != 0 {
		return nil, &domain.ConfigurationError{Subject: HardwareFile, Reason: "ollama_keep_alive must be 0"}
	}

	limit := h.Spec.GPU.MaxModelVRAMMB
	if limit <= 0 {
		return nil, nil
	}

	names := make([]string, 0, len(r.Agents))
	for n := range r.Agents {
		names = append(names, n)
	}
	sort.Strings(names)

	var warnings []string
	fits := 0
	smallest := 0
	for _, n := range names {
		mb := r.Agents[n].VRAMMB
		if smallest == 0 || mb < smallest {
			smallest = mb
		}
		if mb <= limit {
			fits++
			continue
		}
		warnings = append(warnings, fmt.Sprintf("agent %s needs %dMB, above the %dMB per-model limit", n, mb, limit))
	}
	if fits == 0 {
		return warnings, &domain.ConfigurationError{
			Subject: HardwareFile,
			Reason:  fmt.Sprintf("no agents fit in available VRAM (%dMB); minimum required: %dMB", limit, smallest),
		}
	}
	return warnings, nil
}
