package ai

import (
	"encoding/json"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// openaiAdapter speaks the OpenAI-compatible API served by llama.cpp, LM Studio and friends.
func openaiAdapter() providerAdapter {
	return providerAdapter{
		chatPath:      "/v1/chat/completions",
		modelsPath:    "/v1/models",
		buildRequest:  buildChatCompletionRequest,
		parseResponse: parseChatCompletionResponse,
		parseModels:   parseOpenAIModels,
		setHeaders:    bearerHeader,
	}
}

func buildChatCompletionRequest(model domain.ModelDefinition, messages []domain.PromptMessage) ([]byte, error) {
	return json.Marshal(chatCompletionRequest{
		Model:       model.GetModelID(),
		Messages:    toChatMessages(messages),
		MaxTokens:   model.MaxTokens,
		Temperature: model.GetTemperature(),
		TopP:        model.GetTopP(),
	})
}

func parseChatCompletionResponse(body []byte) (chatReply, error) {
	var response chatCompletionResponse
	if err := decodeJSON(body, &response); err != nil {
		return chatReply{}, err
	}
	reply := chatReply{Content: response.FirstMessage()}
	if len(response.Choices) > 0 {
		for _, call := range response.Choices[0].Message.ToolCalls {
			if call.Function.Name != toolName {
				continue
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err == nil {
				reply.ToolCommand = commandArgument(args)
				break
			}
		}
	}
	return reply, nil
}

func parseOpenAIModels(body []byte) ([]string, error) {
	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := decodeJSON(body, &response); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(response.Data))
	for _, model := range response.Data {
		models = append(models, model.ID)
	}
	return models, nil
}
