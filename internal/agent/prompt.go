package agent

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed prompts/*.md
var prompts embed.FS

// DefaultTemplate returns the embedded prompt template for a step, or "" if none exists.
func DefaultTemplate(step string) string {
	b, err := prompts.ReadFile("prompts/" + step + ".md")
	if err != nil {
		return ""
	}
	return string(b)
}

// BuildPrompt appends the step input as a fenced JSON block to the template.
func BuildPrompt(template string, input any) (string, error) {
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt input: %w", err)
	}

	var b strings.Builder
	if t := strings.TrimSpace(template); t != "" {
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	b.WriteString("## Input\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```\n\n## Your Response\n\nProvide your response as valid JSON only:")
	return b.String(), nil
}
