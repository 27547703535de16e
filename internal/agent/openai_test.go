// ABOUTME: Tests for OpenAIRunner against a fake streaming completions endpoint
// ABOUTME: Also covers history-to-chat-message conversion

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolor/dolor-gateway/internal/history"
)

func streamServer(t *testing.T, deltas []string) (*httptest.Server, <-chan openai.ChatCompletionRequest) {
	t.Helper()
	requests := make(chan openai.ChatCompletionRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		select {
		case requests <- req:
		default:
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": d}}},
			}
			raw, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", raw)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	return srv, requests
}

func drain(run Run) []Event {
	var events []Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	return events
}

func TestOpenAIRunner_StreamsText(t *testing.T) {
	srv, requests := streamServer(t, []string{"Hel", "lo", "!"})
	defer srv.Close()

	runner := NewOpenAIRunner(OpenAIConfig{
		APIKey:       "test",
		BaseURL:      srv.URL + "/v1/",
		Model:        "test-model",
		Instructions: "Be brief.",
	}, nil)

	run, err := runner.Run(context.Background(), Request{
		SessionID: "s1",
		History:   []history.Item{history.UserMessage("hi")},
	})
	require.NoError(t, err)

	events := drain(run)
	result, err := run.Wait()
	require.NoError(t, err)

	assert.Equal(t, []Event{TextEvent("Hel"), TextEvent("lo"), TextEvent("!")}, events)
	assert.Equal(t, "Hello!", result.Text)
	assert.Equal(t, []history.Item{history.AssistantMessage("Hello!")}, result.Items)

	req := <-requests
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, "hi", req.Messages[1].Content)
}

func TestOpenAIRunner_StartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL + "/v1"}, nil)

	_, err := runner.Run(context.Background(), Request{History: []history.Item{history.UserMessage("hi")}})
	assert.Error(t, err)
}

func TestOpenAIRunner_EmptyReplyHasNoItems(t *testing.T) {
	srv, _ := streamServer(t, nil)
	defer srv.Close()

	runner := NewOpenAIRunner(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	run, err := runner.Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Empty(t, drain(run))
	result, err := run.Wait()
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestChatMessages(t *testing.T) {
	got := ChatMessages([]history.Item{
		history.SystemMessage("rules"),
		history.UserMessage("weather in Oslo and Bergen?"),
		history.Reasoning{Content: "two lookups"},
		history.ToolCall{ID: "c1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
		history.ToolCall{ID: "c2", Name: "get_weather", Arguments: `{"city":"Bergen"}`},
		history.ToolOutput{CallID: "c1", Output: "sunny"},
		history.ToolOutput{CallID: "c2", Output: "rain"},
		history.AssistantMessage("Oslo sunny, Bergen rain."),
	})

	require.Len(t, got, 6)
	assert.Equal(t, openai.ChatMessageRoleSystem, got[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got[1].Role)

	assert.Equal(t, openai.ChatMessageRoleAssistant, got[2].Role)
	require.Len(t, got[2].ToolCalls, 2)
	assert.Equal(t, "c2", got[2].ToolCalls[1].ID)
	assert.Equal(t, `{"city":"Bergen"}`, got[2].ToolCalls[1].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, got[3].Role)
	assert.Equal(t, "c1", got[3].ToolCallID)
	assert.Equal(t, "rain", got[4].Content)
	assert.Equal(t, "Oslo sunny, Bergen rain.", got[5].Content)
}

func TestPipe_SendAfterCancel(t *testing.T) {
	p := NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, p.Send(ctx, TextEvent("x")))

	p.Finish(Result{Text: "first"}, nil)
	p.Finish(Result{Text: "second"}, context.Canceled)

	_, open := <-p.Events()
	assert.False(t, open)
	res, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, "first", res.Text)
}
