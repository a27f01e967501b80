package eval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const agentName = "trial matcher"

// Collaborator is the external model call: prompt in, raw text out.
type Collaborator interface {
	Evaluate(ctx context.Context, message string) (string, error)
}

// GeminiAgent is the production Collaborator: an LLM agent over a Gemini
// model, driven through an adk runner with one in-memory session per run.
type GeminiAgent struct {
	runner    *runner.Runner
	sessions  session.Service
	appName   string
	userID    string
	sessionID string
}

// NewGeminiAgent builds the agent for the given model name (e.g.
// "gemini-2.5-flash" for the broad pass, "gemini-2.5-pro" for the
// refinement pass).
func NewGeminiAgent(ctx context.Context, apiKey, modelName string) (*GeminiAgent, error) {
	model, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	matcher, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       model,
		Description: "Evaluate clinical trial relevance for a patient",
		Instruction: instruction(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessions := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        matcher.Name(),
		Agent:          matcher,
		SessionService: sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userID := uuid.NewString()
	sessionID := uuid.NewString()
	created, err := sessions.Create(ctx, &session.CreateRequest{
		AppName:   matcher.Name(),
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &GeminiAgent{
		runner:    r,
		sessions:  sessions,
		appName:   created.Session.AppName(),
		userID:    created.Session.UserID(),
		sessionID: created.Session.ID(),
	}, nil
}

// Evaluate sends one trial's message and returns the final response text.
func (a *GeminiAgent) Evaluate(ctx context.Context, message string) (string, error) {
	stream := a.runner.Run(ctx, a.userID, a.sessionID, &genai.Content{
		Role: "user",
		Parts: []*genai.Part{
			{Text: message},
		},
	}, agent.RunConfig{})

	var output string
	for event, err := range stream {
		if err != nil {
			return "", err
		}
		if event != nil && event.IsFinalResponse() && len(event.Content.Parts) > 0 {
			output = event.Content.Parts[0].Text
		}
	}

	if output == "" {
		return "", fmt.Errorf("empty model response")
	}
	return output, nil
}

// Close deletes the run's session.
func (a *GeminiAgent) Close(ctx context.Context) error {
	err := a.sessions.Delete(ctx, &session.DeleteRequest{
		AppName:   a.appName,
		UserID:    a.userID,
		SessionID: a.sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
