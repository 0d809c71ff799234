package config

import (
	"regexp"
	"strconv"
	"strings"
)

// FastModel is the smallest model known to follow the JSON instructions.
const FastModel = "phi3.5:3.8b-mini-instruct-q4_K_M"

var paramTag = regexp.MustCompile(`(\d+(?:\.\d+)?)b\b`)

// EstimateFootprint guesses the VRAM need of a model from its parameter tag ("7b", "3.8b").
func EstimateFootprint(model string) int {
	m := paramTag.FindStringSubmatch(strings.ToLower(model))
	if m == nil {
		return 3000
	}
	size, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 3000
	}
	switch {
	case size >= 13:
		return 9000
	case size >= 8:
		return 5500
	case size >= 7:
		return 4500
	default:
		return 3000
	}
}

// SingleModel resolves the model every step should use, if any. fast wins over
// explicit, which wins over the SINGLE_MODEL setting.
func (s Settings) SingleModel(explicit string, fast bool) (model string, footprintMB int) {
	switch {
	case fast:
		model = FastModel
	case explicit != "":
		model = explicit
	default:
		model = s.SingleModelName
	}
	if model == "" {
		return "", 0
	}
	if s.SingleModelVRAM > 0 && !fast && explicit == "" {
		return model, s.SingleModelVRAM
	}
	return model, EstimateFootprint(model)
}
