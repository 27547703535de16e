// ABOUTME: Telegram webhook handler: authenticates, dedupes and dispatches updates
// ABOUTME: Commands are handled locally; other text runs a conversation turn and the reply is sent back in chunks

package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/dolor/dolor-gateway/internal/conversation"
	"github.com/dolor/dolor-gateway/internal/observability"
	"github.com/dolor/dolor-gateway/internal/registry"
)

// SecretHeader carries the webhook secret Telegram was configured with.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const (
	// DefaultProcessTimeout bounds one update's turn.
	DefaultProcessTimeout = 2 * time.Minute
	maxUpdateBytes        = 1 << 20
)

// Reply texts.
const (
	livenessText    = "Dolor Telegram webhook is up. Configure Telegram to POST updates to this URL."
	textOnlyText    = "Dolor can only read text messages for now."
	resetText       = "Cleared Dolor's memory for this chat. Start fresh!"
	startFollowUp   = "Run /help to see all commands."
	turnFailedText  = "Dolor hit an error. Please try again in a moment."
	helpText        = "Available commands:\n/start - receive Dolor's greeting and current context\n/reset - drop the current chat history"
	emptyReplyText  = "[No response]"
	duplicateText   = "Duplicate update"
	noMessageText   = "No message to process"
	processedText   = "OK"
	badRequestText  = "Bad Request"
	unauthorizedTxt = "Unauthorized"
)

// BotClient is the subset of *bot.Bot the handler uses.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Conversations runs chat turns. conversation.Service implements it.
type Conversations interface {
	Reply(ctx context.Context, req conversation.TurnRequest) (string, error)
	Greeting(ctx context.Context, req conversation.TurnRequest) (string, error)
	Reset(ctx context.Context, chatKey string) error
}

// Claimer collapses redelivered updates. dedupe.Guard implements it.
type Claimer interface {
	Claim(ctx context.Context, updateID int64) bool
}

// Options configures a Handler.
type Options struct {
	// SecretToken, when set, must match the SecretHeader of every POST.
	SecretToken    string
	ProcessTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *observability.Metrics
}

// Handler serves the Telegram webhook.
type Handler struct {
	bot     BotClient
	convs   Conversations
	claims  Claimer
	secret  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHandler creates a Handler.
func NewHandler(client BotClient, convs Conversations, claims Claimer, opts Options) *Handler {
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		bot:     client,
		convs:   convs,
		claims:  claims,
		secret:  opts.SecretToken,
		timeout: opts.ProcessTimeout,
		logger:  opts.Logger.With("component", "telegram"),
		metrics: opts.Metrics,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeText(w, http.StatusOK, livenessText)
		return
	case http.MethodPost:
	default:
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		h.metrics.RecordWebhookUpdate("unauthorized")
		writeText(w, http.StatusUnauthorized, unauthorizedTxt)
		return
	}

	var update models.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		h.logger.Warn("failed to parse update", "error", err)
		h.metrics.RecordWebhookUpdate("bad_request")
		writeText(w, http.StatusBadRequest, badRequestText)
		return
	}

	if !h.claims.Claim(r.Context(), update.ID) {
		h.logger.Debug("duplicate update dropped", "update_id", update.ID)
		h.metrics.RecordWebhookUpdate("duplicate")
		writeText(w, http.StatusOK, duplicateText)
		return
	}

	msg := updateMessage(&update)
	if msg == nil {
		h.metrics.RecordWebhookUpdate("no_message")
		writeText(w, http.StatusOK, noMessageText)
		return
	}

	// The turn outlives a dropped webhook connection; redelivery is
	// already claimed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	h.Process(ctx, update.ID, msg)
	h.metrics.RecordWebhookUpdate("processed")
	writeText(w, http.StatusOK, processedText)
}

// Process handles one claimed message.
func (h *Handler) Process(ctx context.Context, updateID int64, msg *models.Message) {
	logger := h.logger.With("update_id", updateID, "chat_id", msg.Chat.ID)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		h.send(ctx, msg, textOnlyText, true)
		logger.Info("skipped non-text message")
		return
	}

	chatKey := ChatKey(msg.Chat.ID, msg.MessageThreadID)
	req := conversation.TurnRequest{
		ChatKey:       chatKey,
		UserID:        userID(msg),
		Text:          text,
		UserMessageID: strconv.Itoa(msg.ID),
	}

	if cmd, ok := ParseCommand(text); ok {
		if h.handleCommand(ctx, cmd, req, msg) {
			logger.Info("handled command", "command", cmd.Name)
			return
		}
		logger.Debug("command not handled, treating as message", "command", cmd.Name)
	}

	reply, err := h.convs.Reply(ctx, req)
	if err != nil {
		logger.Error("turn failed", "chat_key", chatKey, "error", err)
		h.send(ctx, msg, turnFailedText, true)
		return
	}
	if reply != "" {
		h.send(ctx, msg, reply, true)
	}
	logger.Info("finished update", "chat_key", chatKey)
}

func (h *Handler) handleCommand(ctx context.Context, cmd Command, req conversation.TurnRequest, msg *models.Message) bool {
	switch cmd.Name {
	case "/start":
		greeting, err := h.convs.Greeting(ctx, req)
		if err != nil {
			h.logger.Error("greeting failed", "chat_key", req.ChatKey, "error", err)
			h.send(ctx, msg, turnFailedText, true)
			return true
		}
		if greeting == "" {
			greeting = emptyReplyText
		}
		h.send(ctx, msg, greeting, true)
		h.send(ctx, msg, startFollowUp, false)
		return true

	case "/help":
		h.send(ctx, msg, helpText, true)
		return true

	case "/reset":
		if err := h.convs.Reset(ctx, req.ChatKey); err != nil {
			h.logger.Error("reset failed", "chat_key", req.ChatKey, "error", err)
			h.send(ctx, msg, turnFailedText, true)
			return true
		}
		h.send(ctx, msg, resetText, true)
		return true

	default:
		return false
	}
}

// send delivers text in chunks. Only the first chunk replies to msg.
func (h *Handler) send(ctx context.Context, msg *models.Message, text string, reply bool) {
	disabled := true
	for _, chunk := range ChunkMessage(text, MessageLimit) {
		params := &bot.SendMessageParams{
			ChatID:             msg.Chat.ID,
			MessageThreadID:    msg.MessageThreadID,
			Text:               chunk,
			LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &disabled},
		}
		if reply {
			params.ReplyParameters = &models.ReplyParameters{MessageID: msg.ID}
			reply = false
		}
		if _, err := h.bot.SendMessage(ctx, params); err != nil {
			h.logger.Error("sendMessage failed", "chat_id", msg.Chat.ID, "error", err)
		}
	}
}

// Command is a parsed bot command.
type Command struct {
	// Name is lowercase with any @botname suffix removed, e.g. "/start".
	Name string
	Args []string
}

// ParseCommand parses text starting with "/".
func ParseCommand(text string) (Command, bool) {
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	if name == "" || name == "/" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: fields[1:]}, true
}

// ChatKey derives the chat key for a Telegram chat and optional forum thread.
func ChatKey(chatID int64, threadID int) string {
	thread := ""
	if threadID != 0 {
		thread = strconv.Itoa(threadID)
	}
	return registry.ChatKey(strconv.FormatInt(chatID, 10), thread)
}

func updateMessage(u *models.Update) *models.Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

func userID(msg *models.Message) string {
	if msg.From == nil {
		return ""
	}
	return "telegram:" + strconv.FormatInt(msg.From.ID, 10)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// ErrBotTokenRequired is returned by NewBot without a token.
var ErrBotTokenRequired = errors.New("telegram bot token is required")

// NewBot creates a send-only bot client. Updates arrive through the
// webhook, so the bot never polls.
func NewBot(token string, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, ErrBotTokenRequired
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	return bot.New(token, opts...)
}
