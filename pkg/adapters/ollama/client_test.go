package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestClient_GenerateSendsSamplingAndNoKeepAlive(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		got = decodeBody(t, r)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"ok":true}`, "done": true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	temperature := 0.5
	text, err := c.Generate(context.Background(), ports.GenerateRequest{
		Model:    "qwen2.5:7b",
		Prompt:   "hello",
		Sampling: ports.Sampling{Temperature: &temperature, NumPredict: 9000},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, "qwen2.5:7b", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(0), got["keep_alive"])

	opts := got["options"].(map[string]any)
	assert.Equal(t, 0.5, opts["temperature"])
	assert.Equal(t, float64(MaxPredict), opts["num_predict"])
	assert.Equal(t, float64(16384), opts["num_ctx"])
	assert.Equal(t, 1.15, opts["repeat_penalty"])
}

func TestClient_GenerateKeepsExplicitZeroTemperature(t *testing.T) {
	var temps []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		temps = append(temps, decodeBody(t, r)["options"].(map[string]any)["temperature"])
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "x", "done": true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	zero := 0.0
	_, err := c.Generate(context.Background(), ports.GenerateRequest{Model: "m", Prompt: "p", Sampling: ports.Sampling{Temperature: &zero}})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), ports.GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, []any{float64(0), DefaultTemperature}, temps)
}

func TestClient_WarmAndUnloadPayloads(t *testing.T) {
	var prompts []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		prompts = append(prompts, body["prompt"])
		assert.NotContains(t, body, "options")
		_, _ = w.Write([]byte(`{"response":"","done":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.Warm(context.Background(), "m"))
	require.NoError(t, c.Unload(context.Background(), "m"))

	assert.Equal(t, []any{"test", ""}, prompts)
}

func TestClient_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'ghost' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL).Warm(context.Background(), "ghost")

	var se *domain.EndpointStatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.NotFound())
	assert.False(t, domain.IsTransient(err))
}

func TestClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url).Warm(context.Background(), "m")

	var tn *domain.TransientNetworkError
	require.ErrorAs(t, err, &tn)
	assert.Equal(t, "warm", tn.Op)
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).Generate(ctx, ports.GenerateRequest{Model: "m", Prompt: "p"})

	assert.True(t, domain.IsTransient(err))
}

func TestClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"phi3.5:3.8b","size":2300000000},{"name":"qwen2.5:14b","size":9000000000}]}`))
	}))
	defer srv.Close()

	models, err := New(srv.URL + "/").ListModels(context.Background())

	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "phi3.5:3.8b", models[0].Name)
	assert.Equal(t, int64(9000000000), models[1].SizeBytes)
}
