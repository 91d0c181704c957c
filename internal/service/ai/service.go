package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"waverchat/internal/config"
	"waverchat/internal/models"
	"waverchat/internal/service/chat"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// defaultMaxHistory bounds the dialog replayed to the model, in messages.
const defaultMaxHistory = 20

// Service answers chat messages straight from an LLM provider instead of the
// chatbot backend. Replies carry no intent and report real token usage.
type Service struct {
	chatModel  model.BaseChatModel
	system     string
	maxHistory int
	mu         sync.Mutex
	dialog     []*schema.Message
	onChunk    func(string)
}

// NewService builds the provider configured under cfg.Service.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	provider := cfg.Service.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelType := cfg.Service.Model
	if modelType == "" {
		modelType = provCfg.Model
	}
	token := cfg.Service.Token
	if token == "" {
		token = provCfg.APIKey
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelType,
			APIKey:  token,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelType,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     modelType,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("start %s model: %w", provider, err)
	}
	return NewWithModel(chatModel, cfg.Service.SystemPrompt, defaultMaxHistory), nil
}

// NewWithModel wraps an already built chat model.
func NewWithModel(chatModel model.BaseChatModel, system string, maxHistory int) *Service {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Service{chatModel: chatModel, system: system, maxHistory: maxHistory}
}

// OnChunk registers a callback receiving the accumulated reply while it
// streams.
func (s *Service) OnChunk(fn func(string)) {
	s.mu.Lock()
	s.onChunk = fn
	s.mu.Unlock()
}

// Send streams one reply. Provider failures map onto the chat error
// taxonomy so the session treats both backends alike.
func (s *Service) Send(ctx context.Context, text string) (*models.Reply, error) {
	s.mu.Lock()
	input := s.buildInput(schema.UserMessage(text))
	onChunk := s.onChunk
	s.mu.Unlock()

	stream, err := s.chatModel.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: open model stream: %v", chat.ErrNetwork, err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		usage   *schema.TokenUsage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read model stream: %v", chat.ErrNetwork, err)
		}
		content.WriteString(chunk.Content)
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage = chunk.ResponseMeta.Usage
		}
		if onChunk != nil {
			onChunk(content.String())
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("%w: empty model reply", chat.ErrMalformed)
	}

	reply := &models.Reply{Content: content.String()}
	if usage != nil {
		tokens := models.NewTokenUsage(usage.PromptTokens, usage.CompletionTokens)
		reply.Tokens = &tokens
	}

	s.mu.Lock()
	s.dialog = append(s.dialog, schema.UserMessage(text), schema.AssistantMessage(reply.Content, nil))
	if extra := len(s.dialog) - s.maxHistory; extra > 0 {
		s.dialog = append([]*schema.Message(nil), s.dialog[extra:]...)
	}
	s.mu.Unlock()
	return reply, nil
}

// Reset forgets the dialog replayed to the model.
func (s *Service) Reset() {
	s.mu.Lock()
	s.dialog = nil
	s.mu.Unlock()
}

func (s *Service) buildInput(latest *schema.Message) []*schema.Message {
	input := make([]*schema.Message, 0, len(s.dialog)+2)
	if s.system != "" {
		input = append(input, schema.SystemMessage(s.system))
	}
	input = append(input, s.dialog...)
	return append(input, latest)
}
