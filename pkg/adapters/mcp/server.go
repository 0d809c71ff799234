// Package mcp exposes pipelines as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/zenforge"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const modesURI = "zen://modes"

// RunSummary is the structured result of run_pipeline.
type RunSummary struct {
	SessionID string   `json:"session_id" jsonschema_description:"Identifier of the run, usable with get_run"`
	Mode      string   `json:"mode" jsonschema_description:"Pipeline that was executed"`
	Complete  bool     `json:"complete" jsonschema_description:"True when the judge produced a final artifact"`
	Consensus *float64 `json:"consensus,omitempty" jsonschema_description:"Judge consensus score in [0,1]"`
	Rounds    int      `json:"deliberation_rounds" jsonschema_description:"Revision rounds requested by the judge"`
	Errors    []string `json:"errors,omitempty" jsonschema_description:"Step failures recorded during the run"`
	Markdown  string   `json:"markdown,omitempty" jsonschema_description:"Rendered final artifact"`
}

// Renderer turns a finished run into markdown.
type Renderer interface {
	Markdown(run *domain.RunContext) (string, error)
}

// Server wraps a pipeline and exposes it as an MCP server.
type Server struct {
	pipeline  ports.Pipeline
	store     ports.RunStore
	renderer  Renderer
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithStore enables the get_run tool.
func WithStore(store ports.RunStore) Option {
	return func(s *Server) { s.store = store }
}

// WithRenderer includes the rendered artifact in run results.
func WithRenderer(r Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP Server instance.
func NewServer(p ports.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("zen-mcp", strings.TrimSpace(zenforge.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) registerTools() {
	modes := make([]string, 0, len(s.pipeline.Modes()))
	for _, m := range s.pipeline.Modes() {
		modes = append(modes, string(m))
	}

	runTool := mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run a multi-step reasoning pipeline over a brief and return the judged artifact. Runs take minutes."),
		mcp.WithString("brief", mcp.Required(), mcp.Description("What to research, plan or learn")),
		mcp.WithString("mode", mcp.Description("Pipeline to run"), mcp.Enum(modes...)),
		mcp.WithString("clarifications", mcp.Description("JSON object of question to answer pairs (optional)")),
		mcp.WithOutputSchema[RunSummary](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunPipeline))

	s.mcpServer.AddTool(mcp.NewTool("list_modes",
		mcp.WithDescription("List the available pipelines and their steps."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(s.modeTable())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})

	if s.store != nil {
		s.mcpServer.AddTool(mcp.NewTool("get_run",
			mcp.WithDescription("Fetch the stored context of a run."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Identifier returned by run_pipeline")),
		), s.handleGetRun)
	}
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunSummary, error) {
	raw, _ := args["brief"].(string)
	brief, err := domain.SanitizeBrief(raw)
	if err != nil {
		s.logger.Warn("mcp run: brief rejected", "err", err, "size", len(raw))
		return RunSummary{}, fmt.Errorf("brief rejected: %w", err)
	}

	mode := domain.ModeResearch
	if m, _ := args["mode"].(string); m != "" {
		if mode, err = domain.ParseMode(m); err != nil {
			return RunSummary{}, err
		}
	}

	var clarifications map[string]string
	if c, ok := args["clarifications"].(string); ok && c != "" {
		if err := json.Unmarshal([]byte(c), &clarifications); err != nil {
			return RunSummary{}, fmt.Errorf("clarifications must be a JSON object of strings: %w", err)
		}
	}

	req := ports.RunRequest{SessionID: uuid.NewString(), Brief: brief, Mode: mode, Clarifications: clarifications}
	s.logger.Info("mcp run started", "session_id", req.SessionID, "mode", mode)

	run, err := s.pipeline.Run(ctx, req)
	var incomplete *domain.PipelineIncompleteError
	if err != nil && !errors.As(err, &incomplete) {
		return RunSummary{}, fmt.Errorf("run failed: %w", err)
	}
	return s.summarize(run), nil
}

func (s *Server) summarize(run *domain.RunContext) RunSummary {
	out := RunSummary{
		SessionID: run.SessionID,
		Mode:      string(run.Mode),
		Complete:  run.Artifact != nil,
		Consensus: run.Consensus,
		Rounds:    run.Round,
	}
	for _, e := range run.Errors {
		out.Errors = append(out.Errors, e.Step+": "+e.Message)
	}
	if s.renderer != nil && run.Artifact != nil {
		md, err := s.renderer.Markdown(run)
		if err != nil {
			s.logger.Error("mcp run: render failed", "session_id", run.SessionID, "err", err)
		}
		out.Markdown = md
	}
	return out
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.store.Load(ctx, id)
	if errors.Is(err, domain.ErrRunNotFound) {
		return mcp.NewToolResultError("run not found: " + id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	b, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

type modeEntry struct {
	Mode  domain.Mode `json:"mode"`
	Steps []string    `json:"steps"`
}

func (s *Server) modeTable() []modeEntry {
	var out []modeEntry
	for _, m := range s.pipeline.Modes() {
		steps, err := s.pipeline.Steps(m)
		if err != nil {
			continue
		}
		out = append(out, modeEntry{Mode: m, Steps: steps})
	}
	return out
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(modesURI, "Available pipelines",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(s.modeTable())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      modesURI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	})
}
