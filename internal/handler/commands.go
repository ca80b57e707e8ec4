package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/flowchat/internal/domain"
	tg "github.com/set-night/flowchat/internal/telegram"
)

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	cs, err := h.chatState(ctx, chatID)
	if err != nil {
		slog.Error("open chat session", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ The assistant is unavailable right now. Please try again later.",
		})
		return
	}

	messages := cs.session.Transcript()
	greeting := messages[0].Text

	var markup models.ReplyMarkup
	if prompts := cs.session.StarterPrompts(); len(prompts) > 0 {
		cs.prompts = prompts
		markup = tg.PromptKeyboard(prompts)
	}
	if _, err := tg.SendLongMessage(ctx, b, chatID, greeting, markup); err != nil {
		slog.Error("send greeting", "error", err, "chat_id", chatID)
	}

	if cs.session.LeadRequired() {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Before we start, please introduce yourself:\n/lead Name; email@example.com; +100000000",
		})
	}
}

func (h *Handler) handleStop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	h.mu.Lock()
	cs, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok {
		return
	}

	err := cs.session.Stop(ctx)
	switch {
	case err == nil:
		// Confirmation arrives with the abort event.
	case errors.Is(err, domain.ErrNoActiveTurn):
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Nothing to stop."})
	case errors.Is(err, domain.ErrAlreadyStopping):
		// Ignore repeated taps while cancellation is in flight.
	default:
		slog.Error("stop turn", "error", err, "chat_id", chatID)
	}
}

func (h *Handler) handleReset(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	h.dropChat(ctx, chatID)
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "🔄 Conversation reset. Send a message to start over.",
	})
}

// handleLead parses "/lead Name; Email; Phone" and registers the contact.
func (h *Handler) handleLead(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	cs, err := h.chatState(ctx, chatID)
	if err != nil {
		slog.Error("open chat session", "error", err, "chat_id", chatID)
		return
	}

	args := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/lead"))
	parts := strings.Split(args, ";")
	lead := domain.Lead{}
	if len(parts) > 0 {
		lead.Name = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		lead.Email = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		lead.Phone = strings.TrimSpace(parts[2])
	}
	if lead.Name == "" && lead.Email == "" && lead.Phone == "" {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Usage: /lead Name; email@example.com; +100000000",
		})
		return
	}

	if err := cs.session.SaveLead(ctx, lead); err != nil {
		slog.Error("save lead", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Could not save your contact details. Please try again.",
		})
		return
	}

	messages := cs.session.Transcript()
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   messages[len(messages)-1].Text,
	})
}

// handleFlowInfo reports session diagnostics. Admin only.
func (h *Handler) handleFlowInfo(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if !h.cfg.IsAdmin(update.Message.From.ID) {
		return
	}
	chatID := update.Message.Chat.ID

	h.mu.Lock()
	cs, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok {
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "No open session."})
		return
	}

	session := cs.session.Session()
	text := fmt.Sprintf(
		"Flow: %s\nChat: %s\nStreaming: %t\nMessages: %d",
		session.FlowID, session.ChatID, cs.session.Streaming(), len(cs.session.Transcript()),
	)
	b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
}
