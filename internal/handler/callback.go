package handler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/flowchat/internal/domain"
)

// handleActionClick answers an action prompt with the chosen element.
func (h *Handler) handleActionClick(ctx context.Context, b *bot.Bot, update *models.Update) {
	cs, chatID, ok := h.callbackState(ctx, b, update)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, "act_"))
	action := cs.action
	if err != nil || action == nil || idx < 0 || idx >= len(action.Elements) {
		return
	}
	cs.action = nil

	elem := action.Elements[idx]

	// Feedback-gated answers open a dialog instead of starting a turn.
	if strings.Contains(elem.Type, "agentflowv2") && action.Data.Input.HumanInputEnableFeedback {
		if err := cs.session.SubmitAction(ctx, elem, *action); errors.Is(err, domain.ErrFeedbackRequired) {
			cs.awaitingFeedback = true
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   "✍️ Add a short note explaining your choice (or send \"-\" to skip):",
			})
		}
		return
	}

	h.respond(ctx, b, chatID, cs, func(ctx context.Context) error {
		return cs.session.SubmitAction(ctx, elem, *action)
	})
}

// handlePromptClick submits a clicked starter or follow-up prompt.
func (h *Handler) handlePromptClick(ctx context.Context, b *bot.Bot, update *models.Update) {
	cs, chatID, ok := h.callbackState(ctx, b, update)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, "pr_"))
	if err != nil || idx < 0 || idx >= len(cs.prompts) {
		return
	}
	prompt := cs.prompts[idx]

	h.respond(ctx, b, chatID, cs, func(ctx context.Context) error {
		return cs.session.SubmitPrompt(ctx, prompt)
	})
}

// handleFeedbackClick records a thumbs rating for a completed message.
func (h *Handler) handleFeedbackClick(ctx context.Context, b *bot.Bot, update *models.Update) {
	cs, chatID, ok := h.callbackState(ctx, b, update)
	if !ok {
		return
	}

	data := update.CallbackQuery.Data
	var rating domain.FeedbackRating
	var messageID string
	switch {
	case strings.HasPrefix(data, "fb_up_"):
		rating = domain.FeedbackThumbsUp
		messageID = strings.TrimPrefix(data, "fb_up_")
	case strings.HasPrefix(data, "fb_down_"):
		rating = domain.FeedbackThumbsDown
		messageID = strings.TrimPrefix(data, "fb_down_")
	default:
		return
	}

	if err := cs.session.SubmitFeedback(ctx, messageID, rating, ""); err != nil {
		slog.Error("submit feedback", "error", err, "chat_id", chatID)
		return
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Thanks for the feedback!",
	})
}

// callbackState acknowledges the callback query and resolves the bridge
// state of the originating chat.
func (h *Handler) callbackState(ctx context.Context, b *bot.Bot, update *models.Update) (*chatState, int64, bool) {
	if update.CallbackQuery == nil {
		return nil, 0, false
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})

	if update.CallbackQuery.Message.Message == nil {
		return nil, 0, false
	}
	chatID := update.CallbackQuery.Message.Message.Chat.ID

	h.mu.Lock()
	cs, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok {
		return nil, 0, false
	}
	return cs, chatID, true
}
