package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/specauthority/llm"
)

// OpenAIProvider targets the hosted OpenAI API. It shares the wire format
// with OllamaProvider and differs only in its default URL and auth.
type OpenAIProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

func (o *OpenAIProvider) BuildURL(baseURL string) string {
	return chatCompletionsURL(baseURL, "https://api.openai.com/v1")
}

// SetHeaders sets the bearer token from OPENAI_API_KEY.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
