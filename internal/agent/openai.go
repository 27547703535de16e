// ABOUTME: OpenAIRunner streams chat completions from an OpenAI-compatible API via go-openai
// ABOUTME: Converts stored history to chat messages and republishes content deltas as text events

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dolor/dolor-gateway/internal/history"
)

// OpenAIConfig configures an OpenAIRunner.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the public endpoint
	Model   string
	// Instructions, when set, is sent as a leading system message.
	Instructions string
}

// OpenAIRunner implements Runner with streaming chat completions.
type OpenAIRunner struct {
	client       *openai.Client
	model        string
	instructions string
	logger       *slog.Logger
}

// NewOpenAIRunner creates a runner for cfg.
func NewOpenAIRunner(cfg OpenAIConfig, logger *slog.Logger) *OpenAIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIRunner{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		instructions: cfg.Instructions,
		logger:       logger.With("component", "agent.openai"),
	}
}

// Run starts a streaming completion. Failing to open the stream is returned
// directly; failures after that surface through Wait.
func (r *OpenAIRunner) Run(ctx context.Context, req Request) (Run, error) {
	messages := ChatMessages(req.History)
	if r.instructions != "" {
		messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.instructions,
		}}, messages...)
	}

	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting completion: %w", err)
	}

	r.logger.Debug("completion started", "session_id", req.SessionID, "messages", len(messages))

	pipe := NewPipe()
	go r.consume(ctx, stream, pipe)
	return pipe, nil
}

func (r *OpenAIRunner) consume(ctx context.Context, stream *openai.ChatCompletionStream, pipe *Pipe) {
	defer stream.Close()

	var text strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			pipe.Finish(resultFromText(text.String()), nil)
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			pipe.Finish(Result{Text: text.String()}, fmt.Errorf("reading completion: %w", err))
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if !pipe.Send(ctx, TextEvent(delta)) {
			pipe.Finish(Result{Text: text.String()}, ctx.Err())
			return
		}
	}
}

func resultFromText(text string) Result {
	res := Result{Text: text}
	if text != "" {
		res.Items = []history.Item{history.AssistantMessage(text)}
	}
	return res
}

// ChatMessages converts history items to chat completion messages.
// Consecutive tool calls are grouped onto one assistant message and
// reasoning items are skipped.
func ChatMessages(items []history.Item) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case history.Message:
			out = append(out, openai.ChatCompletionMessage{
				Role:    chatRole(v.Role),
				Content: v.Content,
			})
		case history.ToolCall:
			call := openai.ToolCall{
				ID:   v.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      v.Name,
					Arguments: v.Arguments,
				},
			}
			if n := len(out); n > 0 && out[n-1].Role == openai.ChatMessageRoleAssistant &&
				out[n-1].Content == "" && len(out[n-1].ToolCalls) > 0 {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{call},
			})
		case history.ToolOutput:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: v.CallID,
				Content:    v.Output,
			})
		case history.Reasoning:
		}
	}
	return out
}

func chatRole(role history.Role) string {
	switch role {
	case history.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case history.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
