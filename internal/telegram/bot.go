// Package telegram exposes the chat assistant as a Telegram bot. Every
// Telegram chat maps to one session in the shared store.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/dbchat/dbchat/internal/assistant"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/query/sqldb"
)

// Telegram rejects messages longer than this many characters.
const maxMessageLength = 4096

type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Handler struct {
	Store     *chat.Store
	Assistant *assistant.Assistant
	Connector chat.Connector
	Database  sqldb.Settings
	Logger    *slog.Logger
}

// Register wires /start and free text onto b.
func (h *Handler) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, h.handleText)
}

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.Start(ctx, b, update)
}

func (h *Handler) handleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	// Handler lookup order is not fixed, so /start can land here too.
	if update.Message.Text == "/start" {
		h.Start(ctx, b, update)
		return
	}
	h.Text(ctx, b, update)
}

// Start resets the chat's transcript and replies with the greeting.
func (h *Handler) Start(ctx context.Context, sender Sender, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	session, _ := h.Store.GetOrCreate(sessionID(chatID))
	session.Reset()
	h.ensureConnected(ctx, session)
	h.reply(ctx, sender, chatID, chat.Greeting)
}

// Text runs one turn for the chat and replies with the assistant message.
func (h *Handler) Text(ctx context.Context, sender Sender, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	session, _ := h.Store.GetOrCreate(sessionID(chatID))
	session.Touch()

	if !h.ensureConnected(ctx, session) {
		h.reply(ctx, sender, chatID, assistant.NotConnectedMessage)
		return
	}

	turn, err := h.Assistant.Ask(ctx, session, update.Message.Text)
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrNotConnected):
			h.reply(ctx, sender, chatID, assistant.NotConnectedMessage)
		case errors.Is(err, assistant.ErrEmptyQuestion), errors.Is(err, assistant.ErrQuestionTooLong):
			h.reply(ctx, sender, chatID, err.Error())
		default:
			h.logger().ErrorContext(ctx, "telegram_turn_failed", "chat_id", chatID, "error", err)
			h.reply(ctx, sender, chatID, assistant.GenericErrorMessage)
		}
		return
	}
	h.reply(ctx, sender, chatID, turn.Answer)
}

func (h *Handler) ensureConnected(ctx context.Context, session *chat.Session) bool {
	if session.Connection() != nil {
		return true
	}
	if h.Connector == nil {
		return false
	}
	_, err := session.EnsureConnection(func() (*chat.Connection, error) {
		return h.Connector.Connect(ctx, h.Database)
	})
	if err != nil {
		h.logger().WarnContext(ctx, "telegram_connect_failed",
			"session_id", session.ID,
			"database", h.Database.Summary(),
			"error", err,
		)
		return false
	}
	return true
}

func (h *Handler) reply(ctx context.Context, sender Sender, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLength) {
		if _, err := sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: part}); err != nil {
			h.logger().ErrorContext(ctx, "telegram_send_failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func sessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break after a newline.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	parts := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
