package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

type httpProvider struct {
	name       string
	model      domain.ModelDefinition
	httpClient *http.Client
	adapter    providerAdapter
}

// providerAdapter captures everything that differs between server dialects.
type providerAdapter struct {
	chatPath      string
	modelsPath    string
	pullPath      string
	buildRequest  func(domain.ModelDefinition, []domain.PromptMessage) ([]byte, error)
	parseResponse func([]byte) (chatReply, error)
	parseModels   func([]byte) ([]string, error)
	buildPull     func(name string) ([]byte, error)
	parsePull     func([]byte) error
	setHeaders    func(*http.Request, domain.ModelDefinition)
}

// chatReply is the assistant text plus any native tool call the server decoded.
type chatReply struct {
	Content     string
	ToolCommand string
}

func newHTTPProvider(name string, model domain.ModelDefinition, client *http.Client, adapter providerAdapter) *httpProvider {
	return &httpProvider{
		name:       name,
		model:      model,
		httpClient: client,
		adapter:    adapter,
	}
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) Model() domain.ModelDefinition {
	return p.model
}

// Generate implements ports.Provider.
func (p *httpProvider) Generate(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	messages, err := renderPromptMessages(p.model, req)
	if err != nil {
		return ports.ProviderResponse{}, err
	}

	body, err := p.adapter.buildRequest(p.model, messages)
	if err != nil {
		return ports.ProviderResponse{}, err
	}

	raw, err := p.send(ctx, http.MethodPost, p.adapter.chatPath, body)
	if err != nil {
		return ports.ProviderResponse{}, err
	}

	reply, err := p.adapter.parseResponse(raw)
	if err != nil {
		return ports.ProviderResponse{}, fmt.Errorf("%s: decode reply: %w", p.name, err)
	}

	response := ports.ProviderResponse{Reply: strings.TrimSpace(reply.Content)}
	if req.Kind == ports.RequestSummary {
		return response, nil
	}

	parsed := parseReply(reply.Content)
	response.Done = parsed.Done
	response.Command = parsed.Command
	if !parsed.Done && parsed.Command == "" && reply.ToolCommand != "" {
		response.Command = reply.ToolCommand
	}
	return response, nil
}

// ListModels implements ports.Provider and doubles as the reachability probe.
func (p *httpProvider) ListModels(ctx context.Context) ([]string, error) {
	raw, err := p.send(ctx, http.MethodGet, p.adapter.modelsPath, nil)
	if err != nil {
		return nil, err
	}
	models, err := p.adapter.parseModels(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode model list: %w", p.name, err)
	}
	return models, nil
}

// Pull implements ports.ModelPuller.
func (p *httpProvider) Pull(ctx context.Context, name string) error {
	if p.adapter.pullPath == "" {
		return fmt.Errorf("%s servers cannot pull models", p.name)
	}
	if name == "" {
		name = p.model.GetModelID()
	}
	body, err := p.adapter.buildPull(name)
	if err != nil {
		return err
	}
	// Pulls take as long as the download; only the caller's context bounds them.
	client := *p.httpClient
	client.Timeout = 0
	raw, err := doWithRetry(ctx, &client, 0, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodPost, p.adapter.pullPath, body)
	})
	if err != nil {
		return p.wrapTransportError(err)
	}
	return p.adapter.parsePull(raw)
}

func (p *httpProvider) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	raw, err := doWithRetry(ctx, p.httpClient, p.model.GetMaxRetries(), func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, method, path, body)
	})
	if err != nil {
		return nil, p.wrapTransportError(err)
	}
	return raw, nil
}

func (p *httpProvider) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, joinURL(p.model.GetEndpoint(), path), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	p.adapter.setHeaders(req, p.model)
	return req, nil
}

func (p *httpProvider) wrapTransportError(err error) error {
	if isUnreachable(err) {
		return fmt.Errorf("%w: %s at %s: %v", domain.ErrModelUnavailable, p.name, p.model.GetEndpoint(), err)
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

// joinURL appends an API path to a base URL, tolerating bases that already carry it.
func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	for _, suffix := range []string{"/api/chat", "/api/generate", "/v1/chat/completions", "/v1"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return base + path
}

func bearerHeader(req *http.Request, model domain.ModelDefinition) {
	if model.AuthEnvVar == "" {
		return
	}
	if token := os.Getenv(model.AuthEnvVar); token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

var (
	_ ports.Provider    = (*httpProvider)(nil)
	_ ports.ModelPuller = (*httpProvider)(nil)
)
