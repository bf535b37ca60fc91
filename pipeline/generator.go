package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/llm"
)

// LLMGenerator produces story drafts through the shared LLM client. It
// implements both Generator and Refiner.
type LLMGenerator struct {
	Client *llm.Client
}

// draftPayload is the JSON shape the generation prompt asks for.
type draftPayload struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Points             *int     `json:"points,omitempty"`
	Persona            string   `json:"persona,omitempty"`
	TimeFrame          string   `json:"time_frame,omitempty"`
}

const generateSystemPrompt = `You write agile user stories. Respond ONLY with a JSON object:
{"title": "...", "description": "As a <role>, I want ...", "acceptance_criteria": ["..."], "points": null, "persona": "<role>", "time_frame": ""}
Stay strictly within the scope themes provided; never introduce capabilities the specification forbids.`

// GenerateStory asks the model for a draft story scoped by the compiled
// authority.
func (g *LLMGenerator) GenerateStory(ctx context.Context, req FeatureRequest, compiled *authority.CompiledAuthority) (*authority.Story, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Feature: %s\n%s\n", req.Title, req.Description)
	if len(compiled.Artifact.ScopeThemes) > 0 {
		fmt.Fprintf(&prompt, "Scope themes: %s\n", strings.Join(compiled.Artifact.ScopeThemes, ", "))
	}
	for _, inv := range compiled.Artifact.Invariants {
		if inv.Type == authority.InvariantForbiddenCapability && inv.Forbidden != nil {
			fmt.Fprintf(&prompt, "Out of scope: %s\n", inv.Forbidden.Term)
		}
	}

	return g.complete(ctx, req, generateSystemPrompt, prompt.String())
}

// RefineStory asks the model to revise a rejected draft.
func (g *LLMGenerator) RefineStory(ctx context.Context, story *authority.Story, violations []authority.Violation) (*authority.Story, error) {
	var prompt strings.Builder
	prompt.WriteString("Revise this story to resolve every violation. Respond with the same JSON shape.\n\nStory:\n")
	draft, err := json.Marshal(draftPayload{
		Title:              story.Title,
		Description:        story.Description,
		AcceptanceCriteria: story.AcceptanceCriteria,
		Points:             story.Points,
		Persona:            story.Persona,
		TimeFrame:          story.TimeFrame,
	})
	if err != nil {
		return nil, err
	}
	prompt.Write(draft)
	prompt.WriteString("\n\nViolations:\n")
	for _, v := range violations {
		fmt.Fprintf(&prompt, "- %s: %s\n", v.Code, v.Message)
	}

	req := FeatureRequest{Product: story.Product, Title: story.Title}
	refined, err := g.complete(ctx, req, generateSystemPrompt, prompt.String())
	if err != nil {
		return nil, err
	}
	refined.ID = story.ID
	refined.SelfReported = story.SelfReported
	return refined, nil
}

func (g *LLMGenerator) complete(ctx context.Context, req FeatureRequest, system, user string) (*authority.Story, error) {
	resp, err := g.Client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, err
	}

	extracted := llm.ExtractJSON(resp.Content)
	if extracted == "" {
		return nil, fmt.Errorf("generation output contains no JSON draft")
	}
	var payload draftPayload
	if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if payload.Title == "" {
		payload.Title = req.Title
	}

	return &authority.Story{
		ID:                 uuid.New().String(),
		Product:            req.Product,
		Title:              payload.Title,
		Description:        payload.Description,
		AcceptanceCriteria: payload.AcceptanceCriteria,
		Points:             payload.Points,
		Persona:            payload.Persona,
		TimeFrame:          payload.TimeFrame,
	}, nil
}
