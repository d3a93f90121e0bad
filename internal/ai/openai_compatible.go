package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/SEK-11/OCR/internal/session"
)

// Binder produces an answer function bound to one document's text and the
// caller's credential.
type Binder interface {
	Bind(text, credential string) session.AnswerFunc
}

// OpenAICompatibleBinder answers questions through any OpenAI-compatible
// chat completions endpoint.
type OpenAICompatibleBinder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAICompatibleBinder(baseURL, model string, timeout time.Duration) *OpenAICompatibleBinder {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAICompatibleBinder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *OpenAICompatibleBinder) Bind(text, credential string) session.AnswerFunc {
	clientCfg := openai.DefaultConfig(credential)
	if b.baseURL != "" {
		clientCfg.BaseURL = b.baseURL
	}
	clientCfg.HTTPClient = b.httpClient
	client := openai.NewClientWithConfig(clientCfg)

	return func(ctx context.Context, question string) string {
		answer, err := complete(ctx, client, b.model, BuildPrompt(text, question))
		if err != nil {
			return "Error: " + err.Error()
		}
		return answer
	}
}

func complete(ctx context.Context, client *openai.Client, model, prompt string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("llm response status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty llm choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "The model returned an empty response.", nil
	}
	return answer, nil
}

// BuildPrompt asks the model to answer strictly from the document text.
func BuildPrompt(text, question string) string {
	var sb strings.Builder
	sb.WriteString("Based on the following extracted text from a document, please answer the question.\n\n")
	sb.WriteString("Document content:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nPlease provide a clear and concise answer based only on the information available in the document. ")
	sb.WriteString("If the information is not available in the document, please say so.")
	return sb.String()
}
