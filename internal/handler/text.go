package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/flowchat/internal/chat"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	tg "github.com/set-night/flowchat/internal/telegram"
)

// HandleMessage processes private text and media messages as conversation
// turns. Registered as the bot's default text handler in main.
func (h *Handler) HandleMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}
	msg := update.Message

	// Skip commands
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	chatID := msg.Chat.ID
	cs, err := h.chatState(ctx, chatID)
	if err != nil {
		slog.Error("open chat session", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ The assistant is unavailable right now. Please try again later.",
		})
		return
	}

	// A pending feedback dialog consumes the next text message.
	if cs.awaitingFeedback {
		cs.awaitingFeedback = false
		feedback := msg.Text
		if feedback == "-" {
			feedback = ""
		}
		h.respond(ctx, b, chatID, cs, func(ctx context.Context) error {
			return cs.session.SubmitActionFeedback(ctx, feedback)
		})
		return
	}

	if !h.stageIncoming(ctx, b, cs, msg) {
		return
	}

	text := msg.Text
	if msg.Caption != "" {
		text = msg.Caption
	}

	if err := cs.session.CanSubmit(text); err != nil {
		h.sendValidation(ctx, b, chatID, err)
		return
	}

	h.respond(ctx, b, chatID, cs, func(ctx context.Context) error {
		return cs.session.Submit(ctx, text)
	})
}

// respond runs one turn and renders its result: a status placeholder that
// streams progressive edits, then the final reply with its keyboard.
func (h *Handler) respond(ctx context.Context, b *bot.Bot, chatID int64, cs *chatState, run func(context.Context) error) {
	stopTyping := tg.StartTyping(ctx, b, chatID)
	defer stopTyping()

	statusMsg, _ := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "⏳ Thinking...",
	})

	done := make(chan struct{})
	if cs.session.Streaming() && statusMsg != nil {
		go h.streamEdits(ctx, b, chatID, statusMsg.ID, cs.session, done)
	}

	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	err := run(reqCtx)
	cancel()
	close(done)

	if err != nil {
		if h.sendValidation(ctx, b, chatID, err) {
			if statusMsg != nil {
				b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: statusMsg.ID})
			}
			return
		}
		// The transcript already carries the failure as a message; render it.
		slog.Error("turn failed", "error", err, "chat_id", chatID)
	}

	h.renderTail(ctx, b, chatID, cs, statusMsg)
}

// streamEdits re-renders the in-flight reply into the status message on a
// fixed cadence until the turn finishes.
func (h *Handler) streamEdits(ctx context.Context, b *bot.Bot, chatID int64, messageID int, session *chat.Session, done <-chan struct{}) {
	ticker := time.NewTicker(config.StreamEditInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages := session.Transcript()
			tail := messages[len(messages)-1]
			if tail.Role != domain.RoleAssistant || tail.Text == "" || tail.Text == last {
				continue
			}
			last = tail.Text
			if err := tg.EditLongMessage(ctx, b, chatID, messageID, last); err != nil {
				slog.Debug("stream edit", "error", err)
			}
		}
	}
}

// renderTail replaces the status placeholder with the final reply and the
// keyboard the reply calls for: action buttons, prompt suggestions, or
// feedback thumbs.
func (h *Handler) renderTail(ctx context.Context, b *bot.Bot, chatID int64, cs *chatState, statusMsg *models.Message) {
	messages := cs.session.Transcript()
	tail := messages[len(messages)-1]

	cs.action = tail.Action
	cs.prompts = tail.FollowUpPrompts

	var markup models.ReplyMarkup
	switch {
	case tail.Action != nil && len(tail.Action.Elements) > 0:
		markup = tg.ActionKeyboard(tail.Action)
	case len(tail.FollowUpPrompts) > 0:
		kb := tg.PromptKeyboard(tail.FollowUpPrompts)
		if cs.session.FeedbackEnabled() && tail.ID != "" {
			kb.InlineKeyboard = append(kb.InlineKeyboard, tg.FeedbackRow(tail.ID))
		}
		markup = kb
	case cs.session.FeedbackEnabled() && tail.ID != "":
		markup = tg.InlineKeyboard(tg.FeedbackRow(tail.ID))
	}

	text := tail.Text
	if text == "" {
		text = "The assistant returned an empty reply."
	}

	if statusMsg != nil {
		b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: statusMsg.ID})
	}
	if _, err := tg.SendLongMessage(ctx, b, chatID, text, markup); err != nil {
		slog.Error("send reply", "error", err, "chat_id", chatID)
	}
}

// sendValidation translates known precondition failures into short user
// messages. Returns false for errors that are not preconditions.
func (h *Handler) sendValidation(ctx context.Context, b *bot.Bot, chatID int64, err error) bool {
	var text string
	switch {
	case errors.Is(err, domain.ErrTurnActive):
		text = "⏳ Wait for the previous reply to finish, or send /stop."
	case errors.Is(err, domain.ErrActionPending):
		text = "Please answer the pending prompt first."
	case errors.Is(err, domain.ErrEmptySubmission):
		text = "Send some text, or attach an image with your message."
	case errors.Is(err, domain.ErrLeadRequired):
		text = "Please introduce yourself first: /lead Name; email@example.com; +100000000"
	default:
		return false
	}
	b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return true
}
