// ABOUTME: Tests for the gateway HTTP surface: stream API, reset, history, events, health
// ABOUTME: Runs handlers through httptest against fakes and a real conversation service

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolor/dolor-gateway/internal/agent"
	"github.com/dolor/dolor-gateway/internal/agent/agenttest"
	"github.com/dolor/dolor-gateway/internal/auth"
	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
	"github.com/dolor/dolor-gateway/internal/registry"
	"github.com/dolor/dolor-gateway/internal/session"
	"github.com/dolor/dolor-gateway/internal/stream"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeConversations struct {
	mu         sync.Mutex
	turns      []conversation.TurnRequest
	resets     []string
	items      []history.Item
	streamErr  error
	resetErr   error
	historyErr error
}

func (f *fakeConversations) Stream(_ context.Context, req conversation.TurnRequest, sink stream.Sink) (stream.Outcome, error) {
	f.mu.Lock()
	f.turns = append(f.turns, req)
	f.mu.Unlock()
	if f.streamErr != nil {
		return stream.Outcome{}, f.streamErr
	}
	_ = sink.WriteEnvelope(stream.Envelope{Event: stream.EventDone, Data: stream.DoneData{AssistantMessageID: "a1"}})
	return stream.Outcome{State: stream.StateDone}, nil
}

func (f *fakeConversations) Reset(_ context.Context, chatKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, chatKey)
	return f.resetErr
}

func (f *fakeConversations) History(context.Context, string) ([]history.Item, error) {
	return f.items, f.historyErr
}

func (f *fakeConversations) Turns() []conversation.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.TurnRequest(nil), f.turns...)
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, subject string) map[string]string {
	t.Helper()
	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate(subject, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func newService(t *testing.T, runner agent.Runner) (*conversation.Service, *session.Store) {
	t.Helper()
	sessions := session.New(kv.NewMemoryStore(nil), session.Options{MaxItems: session.DefaultMaxItems})
	svc, err := conversation.New(conversation.Deps{
		Sessions:  sessions,
		Registry:  registry.New(sessions, registry.Options{}),
		Runner:    runner,
		Publisher: stream.NewPublisher(stream.Options{Saver: sessions}),
		Subjects:  conversation.StaticSubjects{"athlete@example.com": "i42"},
	}, nil)
	require.NoError(t, err)
	return svc, sessions
}

func TestHealth(t *testing.T) {
	gw := New(&fakeConversations{}, Options{})

	rec := do(t, gw.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	t.Run("no probe", func(t *testing.T) {
		gw := New(&fakeConversations{}, Options{})
		rec := do(t, gw.Handler(), http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("store down", func(t *testing.T) {
		gw := New(&fakeConversations{}, Options{Ready: func(context.Context) error {
			return errors.New("dial tcp: connection refused")
		}})
		rec := do(t, gw.Handler(), http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStream_EndToEnd(t *testing.T) {
	runner := &agenttest.ScriptedRunner{Events: []agent.Event{
		agent.TextEvent("Easy "),
		agent.TextEvent("spin today."),
	}}
	svc, sessions := newService(t, runner)
	gw := New(svc, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/web-1/stream",
		`{"text":"How should I train?","message_id":"m-1"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: start\n")
	assert.Contains(t, body, `"userMessageId":"m-1"`)
	assert.Contains(t, body, `event: token`+"\n"+`data: {"delta":"Easy "}`)
	assert.Contains(t, body, "event: done\n")
	assert.NotContains(t, body, "event: error")

	items, err := sessions.Get(context.Background(), registry.SessionID("web-1"))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, history.UserMessage("How should I train?"), items[1])
	assert.Equal(t, history.AssistantMessage("Easy spin today."), items[2])
}

func TestStream_BadRequests(t *testing.T) {
	convs := &fakeConversations{}
	gw := New(convs, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "text is required")

	rec = do(t, gw.Handler(), http.MethodGet, "/api/conversations/c/stream", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Empty(t, convs.Turns())
}

func TestStream_ThreadScopedChatKey(t *testing.T) {
	convs := &fakeConversations{}
	gw := New(convs, Options{})

	do(t, gw.Handler(), http.MethodPost, "/api/conversations/-100/stream", `{"text":"hi","thread_id":"7"}`, nil)

	require.Len(t, convs.Turns(), 1)
	assert.Equal(t, "-100:7", convs.Turns()[0].ChatKey)
	assert.Empty(t, convs.Turns()[0].UserID)
}

func TestStream_StartFailureSendsSingleErrorEnvelope(t *testing.T) {
	svc, sessions := newService(t, &agenttest.ScriptedRunner{StartErr: errors.New("connection refused")})
	gw := New(svc, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/web-2/stream", `{"text":"hello"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "event: error\ndata: {\"error\":\"agent unavailable\"}\n\n", rec.Body.String())

	items, err := sessions.Get(context.Background(), registry.SessionID("web-2"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStream_StoreDown(t *testing.T) {
	convs := &fakeConversations{streamErr: session.ErrBackingStoreUnavailable}
	gw := New(convs, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":"hi"}`, nil)

	assert.Contains(t, rec.Body.String(), "session store unavailable")
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: "))
}

func TestStream_Auth(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte(testSecret))

	t.Run("required rejects anonymous", func(t *testing.T) {
		convs := &fakeConversations{}
		gw := New(convs, Options{Verifier: verifier, RequireAuth: true})

		rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":"hi"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, convs.Turns())
	})

	t.Run("subject becomes user id", func(t *testing.T) {
		convs := &fakeConversations{}
		gw := New(convs, Options{Verifier: verifier, RequireAuth: true})

		rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":"hi"}`, bearer(t, "athlete@example.com"))
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, convs.Turns(), 1)
		assert.Equal(t, "athlete@example.com", convs.Turns()[0].UserID)
	})

	t.Run("optional allows anonymous", func(t *testing.T) {
		convs := &fakeConversations{}
		gw := New(convs, Options{Verifier: verifier})

		rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/c/stream", `{"text":"hi"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, convs.Turns(), 1)
		assert.Empty(t, convs.Turns()[0].UserID)
	})
}

func TestStream_LinkedSubjectReachesInstruction(t *testing.T) {
	runner := &agenttest.ScriptedRunner{Events: []agent.Event{agent.TextEvent("ok")}}
	svc, _ := newService(t, runner)
	gw := New(svc, Options{Verifier: auth.NewJWTVerifier([]byte(testSecret))})

	do(t, gw.Handler(), http.MethodPost, "/api/conversations/web-3/stream", `{"text":"hi"}`, bearer(t, "athlete@example.com"))

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	system, ok := reqs[0].History[0].(history.Message)
	require.True(t, ok)
	assert.Contains(t, system.Content, `"i42"`)
}

func TestReset(t *testing.T) {
	convs := &fakeConversations{}
	gw := New(convs, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/100/reset?thread_id=3", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"100:3"}, convs.resets)
	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100:3", resp.ChatKey)
	assert.Equal(t, registry.SessionID("100:3"), resp.SessionID)
}

func TestReset_StoreDown(t *testing.T) {
	gw := New(&fakeConversations{resetErr: session.ErrBackingStoreUnavailable}, Options{})

	rec := do(t, gw.Handler(), http.MethodPost, "/api/conversations/100/reset", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"session store unavailable"}`, rec.Body.String())
}

func TestHistory(t *testing.T) {
	convs := &fakeConversations{items: []history.Item{
		history.UserMessage("hi"),
		history.AssistantMessage("hello"),
	}}
	gw := New(convs, Options{})

	rec := do(t, gw.Handler(), http.MethodGet, "/api/conversations/100/history", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100", resp.ChatKey)
	assert.Equal(t, history.Items(convs.items), resp.Items)
}

func TestHistory_Empty(t *testing.T) {
	gw := New(&fakeConversations{}, Options{})

	rec := do(t, gw.Handler(), http.MethodGet, "/api/conversations/100/history", "", nil)

	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestEvents_Disabled(t *testing.T) {
	gw := New(&fakeConversations{}, Options{})

	rec := do(t, gw.Handler(), http.MethodGet, "/api/conversations/100/events", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_StreamsTurnEvents(t *testing.T) {
	broadcaster := conversation.NewEventBroadcaster(nil)
	gw := New(&fakeConversations{}, Options{Broadcaster: broadcaster})

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/conversations/100/events?thread_id=3", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return broadcaster.Subscribers("100:3") == 1 }, time.Second, 5*time.Millisecond)
	broadcaster.Publish("100:3", &conversation.TurnEvent{
		ID:      "e1",
		Kind:    conversation.TurnUserMessage,
		ChatKey: "100:3",
		Text:    "hi",
	}, "")

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: user_message\n", event)

	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	var got conversation.TurnEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &got))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, "hi", got.Text)

	cancel()
	assert.Eventually(t, func() bool { return broadcaster.Subscribers("100:3") == 0 }, time.Second, 5*time.Millisecond)
}

func TestMetricsAndWebhookMounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.RecordHeartbeat()

	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hook"))
	})
	gw := New(&fakeConversations{}, Options{Gatherer: reg, Webhook: webhook})

	rec := do(t, gw.Handler(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dolor_")

	rec = do(t, gw.Handler(), http.MethodPost, "/telegram/webhook", "{}", nil)
	assert.Equal(t, "hook", rec.Body.String())
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gw := New(&fakeConversations{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
