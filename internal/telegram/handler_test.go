// ABOUTME: Tests for the Telegram webhook handler and command parsing
// ABOUTME: Drives the handler with httptest and records outgoing sendMessage calls

package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/dedupe"
	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []*bot.SendMessageParams
	err  error
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeBot) Sent() []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*bot.SendMessageParams(nil), f.sent...)
}

func (f *fakeBot) Texts() []string {
	var out []string
	for _, p := range f.Sent() {
		out = append(out, p.Text)
	}
	return out
}

type fakeConversations struct {
	mu       sync.Mutex
	replies  []conversation.TurnRequest
	greets   []conversation.TurnRequest
	resets   []string
	reply    string
	replyErr error
	resetErr error
}

func (f *fakeConversations) Reply(_ context.Context, req conversation.TurnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, req)
	return f.reply, f.replyErr
}

func (f *fakeConversations) Greeting(_ context.Context, req conversation.TurnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greets = append(f.greets, req)
	return "Hello, athlete!", nil
}

func (f *fakeConversations) Reset(_ context.Context, chatKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, chatKey)
	return f.resetErr
}

type fixture struct {
	handler *Handler
	bot     *fakeBot
	convs   *fakeConversations
	metrics *observability.Metrics
}

func newFixture(secret string) *fixture {
	f := &fixture{
		bot:     &fakeBot{},
		convs:   &fakeConversations{reply: "Easy spin today."},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	guard := dedupe.NewGuard(kv.NewMemoryStore(nil), dedupe.GuardOptions{})
	f.handler = NewHandler(f.bot, f.convs, guard, Options{SecretToken: secret, Metrics: f.metrics})
	return f
}

func (f *fixture) post(t *testing.T, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

const textUpdate = `{"update_id":42,"message":{"message_id":7,"date":1700000000,"text":"How should I train today?","chat":{"id":100,"type":"private"},"from":{"id":555,"is_bot":false,"first_name":"Ada"}}}`

func TestHandler_GetIsLiveness(t *testing.T) {
	f := newFixture("")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webhook is up")
}

func TestHandler_RejectsOtherMethods(t *testing.T) {
	f := newFixture("")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/telegram/webhook", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_SecretToken(t *testing.T) {
	f := newFixture("s3cret")

	rec := f.post(t, textUpdate, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, textUpdate, map[string]string{SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.convs.replies)

	rec = f.post(t, textUpdate, map[string]string{SecretHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.WebhookUpdates.WithLabelValues("unauthorized")))
}

func TestHandler_BadJSON(t *testing.T) {
	f := newFixture("")
	rec := f.post(t, `{"update_id":`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_TextMessageRunsTurnAndReplies(t *testing.T) {
	f := newFixture("")
	rec := f.post(t, textUpdate, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.convs.replies, 1)
	req := f.convs.replies[0]
	assert.Equal(t, "100", req.ChatKey)
	assert.Equal(t, "telegram:555", req.UserID)
	assert.Equal(t, "How should I train today?", req.Text)
	assert.Equal(t, "7", req.UserMessageID)

	sent := f.bot.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(100), sent[0].ChatID)
	assert.Equal(t, "Easy spin today.", sent[0].Text)
	require.NotNil(t, sent[0].ReplyParameters)
	assert.Equal(t, 7, sent[0].ReplyParameters.MessageID)
}

func TestHandler_DuplicateUpdateDropped(t *testing.T) {
	f := newFixture("")

	first := f.post(t, textUpdate, nil)
	second := f.post(t, textUpdate, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, duplicateText, second.Body.String())
	assert.Len(t, f.convs.replies, 1)
	assert.Len(t, f.bot.Sent(), 1)
}

func TestHandler_NoMessage(t *testing.T) {
	f := newFixture("")
	rec := f.post(t, `{"update_id":43}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, noMessageText, rec.Body.String())
	assert.Empty(t, f.bot.Sent())
}

func TestHandler_EditedMessageAndThread(t *testing.T) {
	f := newFixture("")
	rec := f.post(t, `{"update_id":44,"edited_message":{"message_id":9,"message_thread_id":3,"date":1,"text":"again","chat":{"id":-200,"type":"supergroup"}}}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.convs.replies, 1)
	assert.Equal(t, "-200:3", f.convs.replies[0].ChatKey)
	assert.Empty(t, f.convs.replies[0].UserID)
	assert.Equal(t, 3, f.bot.Sent()[0].MessageThreadID)
}

func TestHandler_NonTextMessage(t *testing.T) {
	f := newFixture("")
	f.post(t, `{"update_id":45,"message":{"message_id":8,"date":1,"chat":{"id":100,"type":"private"},"sticker":{"file_id":"x"}}}`, nil)

	assert.Empty(t, f.convs.replies)
	assert.Equal(t, []string{textOnlyText}, f.bot.Texts())
}

func TestHandler_TurnFailure(t *testing.T) {
	f := newFixture("")
	f.convs.replyErr = errors.New("store down")

	rec := f.post(t, textUpdate, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{turnFailedText}, f.bot.Texts())
}

func TestHandler_SendFailureStillAcknowledges(t *testing.T) {
	f := newFixture("")
	f.bot.err = errors.New("429 too many requests")

	rec := f.post(t, textUpdate, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Commands(t *testing.T) {
	command := func(id int, text string) string {
		return `{"update_id":` + strconv.Itoa(id) + `,"message":{"message_id":11,"date":1,"text":"` + text + `","chat":{"id":100,"type":"private"},"from":{"id":555,"is_bot":false,"first_name":"Ada"}}}`
	}

	t.Run("start", func(t *testing.T) {
		f := newFixture("")
		f.post(t, command(1, "/start"), nil)

		require.Len(t, f.convs.greets, 1)
		assert.Equal(t, "100", f.convs.greets[0].ChatKey)
		sent := f.bot.Sent()
		require.Len(t, sent, 2)
		assert.Equal(t, "Hello, athlete!", sent[0].Text)
		assert.NotNil(t, sent[0].ReplyParameters)
		assert.Equal(t, startFollowUp, sent[1].Text)
		assert.Nil(t, sent[1].ReplyParameters)
	})

	t.Run("help with bot suffix", func(t *testing.T) {
		f := newFixture("")
		f.post(t, command(2, "/HELP@DolorBot"), nil)

		assert.Equal(t, []string{helpText}, f.bot.Texts())
		assert.Empty(t, f.convs.replies)
	})

	t.Run("reset", func(t *testing.T) {
		f := newFixture("")
		f.post(t, command(3, "/reset"), nil)

		assert.Equal(t, []string{"100"}, f.convs.resets)
		assert.Equal(t, []string{resetText}, f.bot.Texts())
	})

	t.Run("reset failure", func(t *testing.T) {
		f := newFixture("")
		f.convs.resetErr = errors.New("down")
		f.post(t, command(4, "/reset"), nil)

		assert.Equal(t, []string{turnFailedText}, f.bot.Texts())
	})

	t.Run("unknown command runs a turn", func(t *testing.T) {
		f := newFixture("")
		f.post(t, command(5, "/connect now"), nil)

		require.Len(t, f.convs.replies, 1)
		assert.Equal(t, "/connect now", f.convs.replies[0].Text)
	})
}

func TestHandler_LongReplyChunked(t *testing.T) {
	f := newFixture("")
	f.convs.reply = strings.Repeat("a", MessageLimit) + "\n" + strings.Repeat("b", 10)

	f.post(t, textUpdate, nil)

	sent := f.bot.Sent()
	require.Len(t, sent, 2)
	assert.NotNil(t, sent[0].ReplyParameters)
	assert.Nil(t, sent[1].ReplyParameters)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{in: "/start", want: Command{Name: "/start", Args: []string{}}, ok: true},
		{in: "/Reset@dolor_bot now please", want: Command{Name: "/reset", Args: []string{"now", "please"}}, ok: true},
		{in: "hello /start"},
		{in: "/"},
		{in: "/@bot"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCommand(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestChatKey(t *testing.T) {
	assert.Equal(t, "100", ChatKey(100, 0))
	assert.Equal(t, "-100123:42", ChatKey(-100123, 42))
}

func TestNewBot_RequiresToken(t *testing.T) {
	_, err := NewBot("")
	assert.ErrorIs(t, err, ErrBotTokenRequired)
}
