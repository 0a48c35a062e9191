package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

func init() {
	retryBackoff = time.Millisecond
}

func newTestProvider(t *testing.T, kind domain.ProviderKind, endpoint string) ports.Provider {
	t.Helper()
	provider, err := NewFactory().ForModel(domain.ModelDefinition{
		Name:     "test",
		Provider: kind,
		Endpoint: endpoint,
		ModelID:  "mistral:latest",
	})
	require.NoError(t, err)
	return provider
}

func TestOllamaGenerateParsesCommand(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Checking disks.\nCOMMAND: df -h"},"done":true}`)
	}))
	defer server.Close()

	provider := newTestProvider(t, domain.ProviderKindOllama, server.URL)
	resp, err := provider.Generate(context.Background(), ports.ProviderRequest{
		Kind:      ports.RequestNextStep,
		Query:     "show me disk usage",
		Remaining: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "df -h", resp.Command)
	assert.False(t, resp.Done)
	assert.False(t, resp.Malformed())
	assert.Equal(t, "mistral:latest", captured.Model)
	assert.False(t, captured.Stream)
	assert.InDelta(t, domain.DefaultTemperature, captured.Options.Temperature, 1e-9)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, domain.RoleSystem, captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "show me disk usage")
}

func TestOllamaGenerateNativeToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"","tool_calls":[{"function":{"name":"run_shell_command","arguments":{"command":"uptime"}}}]}}`)
	}))
	defer server.Close()

	resp, err := newTestProvider(t, domain.ProviderKindOllama, server.URL).Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.NoError(t, err)
	assert.Equal(t, "uptime", resp.Command)
}

func TestSummaryRequestIsNotParsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"  The root filesystem is 41% full. DONE\n"}}`)
	}))
	defer server.Close()

	resp, err := newTestProvider(t, domain.ProviderKindOllama, server.URL).Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestSummary})
	require.NoError(t, err)
	assert.Equal(t, "The root filesystem is 41% full. DONE", resp.Reply)
	assert.False(t, resp.Done)
	assert.Empty(t, resp.Command)
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	t.Setenv("LOCAL_LLM_TOKEN", "secret")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("authorization"))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"INVESTIGATION_COMPLETE"}}]}`)
	}))
	defer server.Close()

	provider, err := NewFactory().ForModel(domain.ModelDefinition{
		Name:       "lmstudio",
		Provider:   domain.ProviderKindOpenAI,
		Endpoint:   server.URL + "/v1",
		ModelID:    "qwen2.5",
		AuthEnvVar: "LOCAL_LLM_TOKEN",
	})
	require.NoError(t, err)

	resp, err := provider.Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "openai", provider.Name())
}

func TestListModels(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = io.WriteString(w, `{"models":[{"name":"mistral:latest"},{"name":"llama3:8b"}]}`)
	}))
	defer ollama.Close()
	openai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"id":"qwen2.5"}]}`)
	}))
	defer openai.Close()

	models, err := newTestProvider(t, domain.ProviderKindOllama, ollama.URL).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral:latest", "llama3:8b"}, models)

	models, err = newTestProvider(t, domain.ProviderKindOpenAI, openai.URL).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5"}, models)
}

func TestRetriesServerErrorsOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"message":{"content":"COMMAND: free -m"}}`)
	}))
	defer server.Close()

	resp, err := newTestProvider(t, domain.ProviderKindOllama, server.URL).Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.NoError(t, err)
	assert.Equal(t, "free -m", resp.Command)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryBudgetIsBounded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestProvider(t, domain.ProviderKindOllama, server.URL).Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, int32(1+domain.DefaultMaxRetries), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestProvider(t, domain.ProviderKindOllama, server.URL).Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(1500 * time.Millisecond)
		}
		_, _ = io.WriteString(w, `{"message":{"content":"COMMAND: uptime"}}`)
	}))
	defer server.Close()

	provider, err := NewFactory().ForModel(domain.ModelDefinition{
		Name:           "slow",
		Provider:       domain.ProviderKindOllama,
		Endpoint:       server.URL,
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)

	resp, err := provider.Generate(context.Background(), ports.ProviderRequest{Kind: ports.RequestNextStep})
	require.NoError(t, err)
	assert.Equal(t, "uptime", resp.Command)
	assert.Equal(t, int32(2), calls.Load())
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	_, err := newTestProvider(t, domain.ProviderKindOllama, endpoint).ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
}

func TestPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["name"] == "missing" {
			_, _ = io.WriteString(w, `{"error":"pull model manifest: file does not exist"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success"}`)
	}))
	defer server.Close()

	factory := NewFactory()
	model := domain.ModelDefinition{Name: "local", Provider: domain.ProviderKindOllama, Endpoint: server.URL}
	puller, ok, err := factory.Puller(model)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, puller.Pull(context.Background(), "mistral:latest"))
	err = puller.Pull(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")

	_, ok, err = factory.Puller(domain.ModelDefinition{Name: "oa", Provider: domain.ProviderKindOpenAI, Endpoint: server.URL})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInferProviderKind(t *testing.T) {
	assert.Equal(t, domain.ProviderKindOllama, inferProviderKind("http://localhost:11434"))
	assert.Equal(t, domain.ProviderKindOpenAI, inferProviderKind("http://localhost:8080"))
	assert.Equal(t, domain.ProviderKindOpenAI, inferProviderKind("http://gpu-box:5000/v1"))
}

func TestUnsupportedProvider(t *testing.T) {
	_, err := NewFactory().ForModel(domain.ModelDefinition{Name: "x", Provider: "anthropic"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported"))
}
