package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-telegram/bot"

	"github.com/set-night/flowchat/internal/chat"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
	"github.com/set-night/flowchat/internal/state"
)

// chatState is the per-Telegram-chat bridge state: the conversation session
// plus whatever the last reply left clickable.
type chatState struct {
	session *chat.Session
	// action is the unresolved prompt rendered as inline buttons.
	action *domain.Action
	// prompts are the suggestions behind the last prompt keyboard.
	prompts []string
	// awaitingFeedback marks that the next text message answers an
	// action's feedback dialog instead of starting a normal turn.
	awaitingFeedback bool
}

// Handler bridges Telegram updates to chatflow sessions, one session per
// Telegram chat.
type Handler struct {
	bot    *bot.Bot
	cfg    *config.Config
	client *flowise.Client
	states *state.Store

	mu    sync.Mutex
	chats map[int64]*chatState
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot    *bot.Bot
	Cfg    *config.Config
	Client *flowise.Client
	States *state.Store
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:    deps.Bot,
		cfg:    deps.Cfg,
		client: deps.Client,
		states: deps.States,
		chats:  map[int64]*chatState{},
	}
}

// chatState returns the bridge state for a Telegram chat, opening a fresh
// session on first contact.
func (h *Handler) chatState(ctx context.Context, chatID int64) (*chatState, error) {
	h.mu.Lock()
	cs, ok := h.chats[chatID]
	h.mu.Unlock()
	if ok {
		return cs, nil
	}

	session := chat.New(h.client, h.states, h.cfg.FlowID, flowKey(chatID), chat.Hooks{})
	if err := session.Open(ctx); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	cs = &chatState{session: session}
	h.mu.Lock()
	if existing, ok := h.chats[chatID]; ok {
		cs = existing
	} else {
		h.chats[chatID] = cs
	}
	h.mu.Unlock()

	slog.Info("session opened", "chat_id", chatID, "flow", h.cfg.FlowID)
	return cs, nil
}

// dropChat discards the bridge state so the next message starts over.
func (h *Handler) dropChat(ctx context.Context, chatID int64) {
	h.mu.Lock()
	delete(h.chats, chatID)
	h.mu.Unlock()
	if err := h.states.Delete(ctx, flowKey(chatID)); err != nil {
		slog.Warn("delete flow state", "error", err, "chat_id", chatID)
	}
}

func flowKey(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}
