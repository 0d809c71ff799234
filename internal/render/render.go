// Package render writes the final artifact of a run to disk as markdown.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/pkg/domain"
)

//go:embed templates/*.md.tmpl
var templates embed.FS

// ErrNoArtifact is returned when the run has no final artifact to render.
var ErrNoArtifact = errors.New("run has no final artifact")

// View is the data handed to the templates.
type View struct {
	Title           string
	Run             *domain.RunContext
	Artifact        domain.Artifact
	Synthesis       domain.Synthesis
	Consensus       *float64
	Recommendations []string
	Findings        []domain.Finding
	Sources         []domain.Evidence
	// Fence is the info string used for diagram code blocks.
	Fence string
}

// Result describes what was written.
type Result struct {
	Path     string
	Markdown string
	// Fallback is true when templating failed and the raw JSON artifact was written.
	Fallback bool
}

// Renderer turns runs into files under a directory.
type Renderer struct {
	dir    string
	custom string
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Renderer)

// WithTemplateDir loads <mode>.md.tmpl from dir before the embedded templates.
func WithTemplateDir(dir string) Option {
	return func(r *Renderer) { r.custom = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// New creates a Renderer writing into dir.
func New(dir string, opts ...Option) *Renderer {
	r := &Renderer{dir: dir, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
	"score": func(s *float64) string {
		if s == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f", *s)
	},
}

func (r *Renderer) template(mode domain.Mode) (*template.Template, error) {
	name := string(mode) + ".md.tmpl"
	t := template.New(name).Funcs(funcs)
	t, err := t.ParseFS(templates, "templates/footer.md.tmpl")
	if err != nil {
		return nil, err
	}
	if r.custom != "" {
		if b, err := os.ReadFile(filepath.Join(r.custom, name)); err == nil {
			return t.Parse(string(b))
		}
	}
	b, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("no template for mode %s", mode)
	}
	return t.Parse(string(b))
}

// Markdown renders the run without touching the filesystem.
func (r *Renderer) Markdown(run *domain.RunContext) (string, error) {
	if run.Artifact == nil {
		return "", ErrNoArtifact
	}
	t, err := r.template(run.Mode)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, NewView(run)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Write renders the run to <dir>/<mode>_<timestamp>.md. When templating fails it
// writes the artifact as JSON next to a short markdown file pointing at it.
func (r *Renderer) Write(run *domain.RunContext) (Result, error) {
	if run.Artifact == nil {
		return Result{}, ErrNoArtifact
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}
	base := filepath.Join(r.dir, fmt.Sprintf("%s_%s", run.Mode, r.now().Format("20060102_150405")))

	md, err := r.Markdown(run)
	if err == nil {
		path := base + ".md"
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return Result{}, fmt.Errorf("write markdown: %w", err)
		}
		r.logger.Info("artifact written", "path", path, "session_id", run.SessionID)
		return Result{Path: path, Markdown: md}, nil
	}

	r.logger.Warn("template rendering failed, writing raw artifact", "session_id", run.SessionID, "err", err)
	data, jerr := json.MarshalIndent(run.Artifact, "", "  ")
	if jerr != nil {
		return Result{}, fmt.Errorf("encode artifact: %w", jerr)
	}
	jsonPath := base + ".json"
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write artifact json: %w", err)
	}
	pointer := fmt.Sprintf("# %s\n\nRendering failed: %v\n\nThe raw artifact is in `%s`.\n",
		title(run), err, filepath.Base(jsonPath))
	if err := os.WriteFile(base+".md", []byte(pointer), 0o644); err != nil {
		return Result{}, fmt.Errorf("write markdown: %w", err)
	}
	return Result{Path: jsonPath, Markdown: pointer, Fallback: true}, nil
}

// NewView collects what the templates need from a run.
func NewView(run *domain.RunContext) View {
	v := View{Run: run, Consensus: run.Consensus, Findings: run.Findings, Fence: "mermaid"}
	if run.Artifact != nil {
		v.Artifact = *run.Artifact
	}
	if out, ok := run.Output("judge"); ok {
		if j, ok := out.(domain.JudgeOutput); ok {
			v.Synthesis = j.Synthesis
			v.Recommendations = j.Recommendations
		}
	}
	if run.Audit != nil && len(v.Recommendations) == 0 {
		v.Recommendations = run.Audit.Recommendations
	}
	v.Title = title(run)
	v.Sources = sources(run)
	return v
}

func title(run *domain.RunContext) string {
	if run.Artifact != nil && run.Artifact.Title != "" {
		return run.Artifact.Title
	}
	if run.Intent != nil && run.Intent.Intent.PrimaryGoal != "" {
		return run.Intent.Intent.PrimaryGoal
	}
	mode := string(run.Mode)
	if mode == "" {
		return "ZenForge Output"
	}
	return "ZenForge " + strings.ToUpper(mode[:1]) + mode[1:] + " Output"
}

// sources flattens the evidence map, one entry per citation, in citation order.
func sources(run *domain.RunContext) []domain.Evidence {
	seen := map[string]bool{}
	var out []domain.Evidence
	for _, list := range run.Evidence {
		for _, e := range list {
			key := e.CitationID
			if key == "" {
				key = e.URL
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].CitationID) != len(out[j].CitationID) {
			return len(out[i].CitationID) < len(out[j].CitationID)
		}
		return out[i].CitationID < out[j].CitationID
	})
	return out
}
