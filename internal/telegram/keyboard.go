package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/set-night/flowchat/internal/domain"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// ActionKeyboard renders an action prompt's elements, one button per row.
// Callback data carries the element index; the handler keeps the action
// itself.
func ActionKeyboard(action *domain.Action) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(action.Elements))
	for i, el := range action.Elements {
		rows = append(rows, ButtonRow(InlineButton(el.Label, fmt.Sprintf("act_%d", i))))
	}
	return InlineKeyboard(rows...)
}

// FeedbackRow renders thumbs up/down buttons for a completed message.
func FeedbackRow(messageID string) []models.InlineKeyboardButton {
	return ButtonRow(
		InlineButton("👍", "fb_up_"+messageID),
		InlineButton("👎", "fb_down_"+messageID),
	)
}

// PromptKeyboard renders clickable prompt suggestions, one per row.
// Callback data carries the prompt index; the handler keeps the prompts.
func PromptKeyboard(prompts []string) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(prompts))
	for i, p := range prompts {
		label := p
		if len([]rune(label)) > 40 {
			label = string([]rune(label)[:37]) + "..."
		}
		rows = append(rows, ButtonRow(InlineButton(label, fmt.Sprintf("pr_%d", i))))
	}
	return InlineKeyboard(rows...)
}
