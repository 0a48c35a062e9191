// Package ai talks to locally hosted model servers.
//
// One generic HTTP provider is parameterised by a wire adapter:
//   - ollama: the native /api/chat, /api/tags and /api/pull endpoints
//   - openai: any OpenAI-compatible local server (llama.cpp, LM Studio, vLLM)
//
// Prompts are text/templates rendered from the query, host facts and the
// transcript so far; replies are parsed into a command or a completion signal.
package ai

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Factory builds providers that share one transport.
type Factory struct {
	transport http.RoundTripper
}

// NewFactory creates a new provider factory.
func NewFactory() *Factory {
	return &Factory{transport: http.DefaultTransport}
}

// NewFactoryWithTransport lets tests inject a transport.
func NewFactoryWithTransport(transport http.RoundTripper) *Factory {
	return &Factory{transport: transport}
}

// ForModel implements ports.ProviderFactory.
func (f *Factory) ForModel(model domain.ModelDefinition) (ports.Provider, error) {
	return f.build(model)
}

// Puller returns the model downloader for a definition, when the server supports one.
func (f *Factory) Puller(model domain.ModelDefinition) (ports.ModelPuller, bool, error) {
	provider, err := f.build(model)
	if err != nil {
		return nil, false, err
	}
	if provider.adapter.pullPath == "" {
		return nil, false, nil
	}
	return provider, true, nil
}

func (f *Factory) build(model domain.ModelDefinition) (*httpProvider, error) {
	timeout := domain.DefaultModelTimeout
	if model.TimeoutSeconds > 0 {
		timeout = time.Duration(model.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout, Transport: f.transport}

	kind := model.Provider
	if kind == domain.ProviderKindUnknown {
		kind = inferProviderKind(model.GetEndpoint())
	}

	switch kind {
	case domain.ProviderKindOllama:
		return newHTTPProvider(string(kind), model, client, ollamaAdapter()), nil
	case domain.ProviderKindOpenAI:
		return newHTTPProvider(string(kind), model, client, openaiAdapter()), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", kind)
	}
}

// inferProviderKind guesses the wire protocol from the endpoint.
func inferProviderKind(endpoint string) domain.ProviderKind {
	lower := strings.ToLower(endpoint)
	switch {
	case strings.Contains(lower, "/v1"), strings.Contains(lower, ":8080"), strings.Contains(lower, ":1234"):
		return domain.ProviderKindOpenAI
	default:
		return domain.ProviderKindOllama
	}
}

var _ ports.ProviderFactory = (*Factory)(nil)
