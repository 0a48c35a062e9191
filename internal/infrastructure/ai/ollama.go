package ai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// ollamaAdapter speaks Ollama's native API.
func ollamaAdapter() providerAdapter {
	return providerAdapter{
		chatPath:      "/api/chat",
		modelsPath:    "/api/tags",
		pullPath:      "/api/pull",
		buildRequest:  buildOllamaRequest,
		parseResponse: parseOllamaResponse,
		parseModels:   parseOllamaModels,
		buildPull:     buildOllamaPull,
		parsePull:     parseOllamaPull,
		setHeaders:    func(*http.Request, domain.ModelDefinition) {},
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string     `json:"content"`
		ToolCalls []toolCall `json:"tool_calls"`
	} `json:"message"`
	Error string `json:"error"`
}

func buildOllamaRequest(model domain.ModelDefinition, messages []domain.PromptMessage) ([]byte, error) {
	return json.Marshal(ollamaChatRequest{
		Model:    model.GetModelID(),
		Messages: toChatMessages(messages),
		Options: ollamaOptions{
			Temperature: model.GetTemperature(),
			TopP:        model.GetTopP(),
			NumPredict:  model.MaxTokens,
		},
	})
}

func parseOllamaResponse(body []byte) (chatReply, error) {
	var response ollamaChatResponse
	if err := decodeJSON(body, &response); err != nil {
		return chatReply{}, err
	}
	if response.Error != "" {
		return chatReply{}, fmt.Errorf("ollama: %s", response.Error)
	}
	reply := chatReply{Content: response.Message.Content}
	for _, call := range response.Message.ToolCalls {
		if call.Function.Name == toolName {
			reply.ToolCommand = commandArgument(call.Function.Arguments)
			break
		}
	}
	return reply, nil
}

func parseOllamaModels(body []byte) ([]string, error) {
	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := decodeJSON(body, &response); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(response.Models))
	for _, model := range response.Models {
		models = append(models, model.Name)
	}
	return models, nil
}

func buildOllamaPull(name string) ([]byte, error) {
	return json.Marshal(map[string]any{"name": name, "stream": false})
}

func parseOllamaPull(body []byte) error {
	var response struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := decodeJSON(body, &response); err != nil {
		return err
	}
	if response.Error != "" {
		return fmt.Errorf("ollama pull: %s", response.Error)
	}
	if response.Status != "success" {
		return fmt.Errorf("ollama pull: unexpected status %q", response.Status)
	}
	return nil
}
