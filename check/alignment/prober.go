package alignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/specauthority/llm"
)

// LLMProber asks the model whether a forbidden term appears only in a negated
// or exclusionary sense. Any unexpected answer is an error, which the checker
// treats as no suppression.
type LLMProber struct {
	Client *llm.Client
}

const probeSystemPrompt = `You judge whether a term in a text is explicitly negated or excluded (for example "does not use X", "without X", "X is out of scope"). Answer with exactly one word: YES if every occurrence of the term is negated or exclusionary, NO otherwise.`

// IsNegation implements NegationProber.
func (p *LLMProber) IsNegation(ctx context.Context, text, term string) (bool, error) {
	temp := 0.0
	resp, err := p.Client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: probeSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Term: %s\n\nText:\n%s", term, text)},
		},
		Temperature: &temp,
		MaxTokens:   8,
	})
	if err != nil {
		return false, err
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Content))
	switch {
	case strings.HasPrefix(answer, "YES"):
		return true, nil
	case strings.HasPrefix(answer, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("unexpected probe answer %q", resp.Content)
	}
}
