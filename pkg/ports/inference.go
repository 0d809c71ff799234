package ports

import "context"

// Sampling carries the generation parameters forwarded to the endpoint.
// A nil Temperature selects the endpoint default; zero is a valid setting.
type Sampling struct {
	Temperature   *float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	NumCtx        int
	NumPredict    int
}

// GenerateRequest is a single non-streaming completion request.
type GenerateRequest struct {
	Model    string
	Prompt   string
	Sampling Sampling
}

// ModelInfo describes a model available on the endpoint.
type ModelInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size"`
}

// InferenceClient talks to a text-generation endpoint that never keeps models resident.
type InferenceClient interface {
	// Warm performs a minimal round-trip that proves the model is loadable and responsive.
	Warm(ctx context.Context, model string) error

	// Unload asks the endpoint to evict the model.
	Unload(ctx context.Context, model string) error

	// Generate returns the raw text response.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Endpoint returns the base address, used in error messages.
	Endpoint() string
}

// ModelLister is implemented by clients that can enumerate local models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
