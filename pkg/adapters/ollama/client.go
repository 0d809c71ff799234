// Package ollama implements ports.InferenceClient against an Ollama server.
//
// Every request is sent with keep_alive set to zero so the server never holds
// a model resident beyond a single call; residency is tracked by the slot
// manager instead.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

const (
	DefaultBaseURL = "http://localhost:11434"

	// MaxPredict caps num_predict regardless of the step configuration.
	MaxPredict = 4096

	maxResponseBytes = 32 << 20
	maxErrorBytes    = 4 << 10
)

// DefaultTemperature is used when a request leaves Temperature unset.
const DefaultTemperature = 0.3

// Defaults are applied to every Generate call whose Sampling leaves a field zero.
var Defaults = ports.Sampling{
	TopP:          0.95,
	TopK:          40,
	RepeatPenalty: 1.15,
	NumCtx:        16384,
	NumPredict:    MaxPredict,
}

// Client is an HTTP client for the Ollama generate and tags APIs.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var (
	_ ports.InferenceClient = (*Client)(nil)
	_ ports.ModelLister     = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger configures a logger for the Client.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-call deadlines come from the caller's context.
		http:   &http.Client{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	NumCtx        int     `json:"num_ctx"`
	NumPredict    int     `json:"num_predict"`
}

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	KeepAlive int              `json:"keep_alive"`
	Options   *generateOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string { return c.baseURL }

// Warm sends a tiny prompt so the model is verified loadable and responsive.
func (c *Client) Warm(ctx context.Context, model string) error {
	_, err := c.generate(ctx, "warm", generateRequest{Model: model, Prompt: "test"})
	return err
}

// Unload asks the server to evict the model immediately.
func (c *Client) Unload(ctx context.Context, model string) error {
	_, err := c.generate(ctx, "unload", generateRequest{Model: model, Prompt: ""})
	return err
}

// Generate runs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	s := withDefaults(req.Sampling)
	temperature := DefaultTemperature
	if s.Temperature != nil {
		temperature = *s.Temperature
	}
	resp, err := c.generate(ctx, "generate", generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Options: &generateOptions{
			Temperature:   temperature,
			TopP:          s.TopP,
			TopK:          s.TopK,
			RepeatPenalty: s.RepeatPenalty,
			NumCtx:        s.NumCtx,
			NumPredict:    s.NumPredict,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

func withDefaults(s ports.Sampling) ports.Sampling {
	if s.TopP == 0 {
		s.TopP = Defaults.TopP
	}
	if s.TopK == 0 {
		s.TopK = Defaults.TopK
	}
	if s.RepeatPenalty == 0 {
		s.RepeatPenalty = Defaults.RepeatPenalty
	}
	if s.NumCtx == 0 {
		s.NumCtx = Defaults.NumCtx
	}
	if s.NumPredict <= 0 || s.NumPredict > MaxPredict {
		s.NumPredict = MaxPredict
	}
	return s
}

func (c *Client) generate(ctx context.Context, op string, body generateRequest) (*generateResponse, error) {
	body.Stream = false
	body.KeepAlive = 0

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	start := time.Now()
	raw, err := c.do(ctx, op, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return nil, err
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if out.Error != "" {
		return nil, &domain.EndpointStatusError{Endpoint: c.baseURL, Code: http.StatusInternalServerError, Body: out.Error}
	}
	c.logger.Debug("ollama call complete", "op", op, "model", body.Model, "duration", time.Since(start))
	return &out, nil
}

type tagsResponse struct {
	Models []ports.ModelInfo `json:"models"`
}

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]ports.ModelInfo, error) {
	raw, err := c.do(ctx, "tags", http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var out tagsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	return out.Models, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(op, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &domain.EndpointStatusError{Endpoint: c.baseURL, Code: resp.StatusCode, Body: string(msg)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(op, c.baseURL, err)
	}
	return raw, nil
}

// classify wraps transport failures. Timeouts and refused connections are transient.
func classify(op, endpoint string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr) && netErr.Timeout():
		return &domain.TransientNetworkError{Op: op, Endpoint: endpoint, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &domain.TransientNetworkError{Op: op, Endpoint: endpoint, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, endpoint, err)
}
