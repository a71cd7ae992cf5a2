package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"robomind/internal/config"
	"robomind/internal/models"
)

// ErrBackend marks a failed generative call. The dispatcher catches it and
// keeps the conversation alive with an apology turn.
var ErrBackend = errors.New("generative backend error")

const systemPrompt = "You are RoboMind, a friendly multilingual assistant. " +
	"Answer concisely. The conversation history is provided for context; " +
	"reply only to the latest user message."

// Service wraps one provider's chat model behind a uniform Generate call.
type Service struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
}

// NewService builds the chat model for the named provider from config. When
// tools are available a react agent wraps the model so generic questions can
// consult web search.
func NewService(ctx context.Context, provider string, cfg *config.Config) (*Service, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init chat model for %s: %w", provider, err)
	}

	var reactAgent *react.Agent
	if tools := InitToolsChain(ctx); len(tools) > 0 {
		reactAgent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}

	return &Service{chatModel: chatModel, agent: reactAgent}, nil
}

// Generate produces an assistant reply from the ordered context window. The
// final turn is expected to be the user's latest utterance. Streamed chunks
// are forwarded to the callback with the accumulated content so far; the
// callback may be nil.
func (s *Service) Generate(ctx context.Context, turns []models.Turn, callback func(string) error) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("%w: empty context", ErrBackend)
	}
	messages := convertTurns(turns)

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, messages)
	} else {
		streamReader, err = s.chatModel.Stream(ctx, messages)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	var fullContent string
	for {
		chunk, err := streamReader.Recv()
		if err != nil {
			// flow finished
			break
		}
		fullContent += chunk.Content

		if callback != nil {
			if err := callback(fullContent); err != nil {
				return "", err
			}
		}
	}
	if fullContent == "" {
		return "", fmt.Errorf("%w: empty completion", ErrBackend)
	}
	return fullContent, nil
}

func convertTurns(turns []models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns)+1)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: systemPrompt,
	})
	for _, turn := range turns {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: turn.Content,
		})
	}
	return messages
}
