package handler

import (
	"github.com/go-telegram/bot"
)

// Register registers all command and callback handlers on the bot instance.
// The default text/media handler is registered separately in main.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stop", bot.MatchTypePrefix, h.handleStop)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/reset", bot.MatchTypePrefix, h.handleReset)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/lead", bot.MatchTypePrefix, h.handleLead)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/flow", bot.MatchTypePrefix, h.handleFlowInfo)

	// Inline keyboard callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "act_", bot.MatchTypePrefix, h.handleActionClick)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "pr_", bot.MatchTypePrefix, h.handlePromptClick)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "fb_", bot.MatchTypePrefix, h.handleFeedbackClick)
}
