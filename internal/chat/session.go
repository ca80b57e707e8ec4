// Package chat orchestrates conversational turns against a chatflow
// backend: validation, attachment staging, delivery-path selection,
// cancellation, and post-turn reset.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/set-night/flowchat/internal/attachment"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
	"github.com/set-night/flowchat/internal/history"
	"github.com/set-night/flowchat/internal/transcript"
)

// Level classifies surface notifications.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// StateStore is the opaque persisted collaborator keeping the session
// correlation per flow key.
type StateStore interface {
	Get(ctx context.Context, flowKey string) (*domain.FlowState, error)
	SetChatID(ctx context.Context, flowKey, chatID string) error
	SetLead(ctx context.Context, flowKey string, lead domain.Lead) error
}

// Hooks are the narrow surface collaborators. All fields are optional; the
// surface owns input clearing, focus, and scrolling and is told when to do
// them via TurnDone.
type Hooks struct {
	Notify          func(level Level, message string)
	NodeStatus      func(json.RawMessage)
	ClearNodeStatus func()
	FollowUps       func([]string)
	TurnDone        func()
}

type pendingAction struct {
	data   domain.ActionData
	fbType string
}

// Session is the single-owner aggregate for one conversation: transcript,
// input recall, staged attachment drafts, capability snapshot, and turn
// control state. Exactly one turn may be in flight at a time.
type Session struct {
	client *flowise.Client
	states StateStore
	hooks  Hooks

	flowKey string
	session domain.Session

	store    *transcript.Store
	recall   *history.Buffer
	pipeline *attachment.Pipeline

	streaming   bool
	constraints *flowise.UploadConstraints
	flowCfg     *flowise.FlowConfig

	mu         sync.Mutex
	turnActive bool
	stopping   bool
	pending    *pendingAction
	drafts     []domain.Attachment
	staged     []attachment.StagedFile
	leadRef    transcript.Ref
	hasLeadRef bool
	leadSaved  bool
	leadEmail  string
}

// New prepares a session for one flow. flowKey scopes the persisted state;
// a surface serving many independent conversations of the same flow passes
// a distinct key per conversation.
func New(client *flowise.Client, states StateStore, flowID, flowKey string, hooks Hooks) *Session {
	if flowKey == "" {
		flowKey = flowID
	}
	return &Session{
		client:  client,
		states:  states,
		hooks:   hooks,
		flowKey: flowKey,
		session: domain.Session{FlowID: flowID, ChatID: uuid.NewString()},
		store:   transcript.New(config.GreetingMessage),
		recall:  history.New(config.InputHistorySize),
	}
}

// Open performs the one-time session-open reads: streaming capability,
// upload constraints, flow config, persisted correlation, and prior
// transcript. It must be called once before the first turn.
func (s *Session) Open(ctx context.Context) error {
	streaming, err := s.client.Streaming(ctx, s.session.FlowID)
	if err != nil {
		return fmt.Errorf("read streaming capability: %w", err)
	}
	s.streaming = streaming

	s.constraints, err = s.client.UploadConstraints(ctx, s.session.FlowID)
	if err != nil {
		return fmt.Errorf("read upload constraints: %w", err)
	}

	s.flowCfg, err = s.client.FlowConfig(ctx, s.session.FlowID)
	if err != nil {
		return fmt.Errorf("read flow config: %w", err)
	}

	s.pipeline = attachment.New(s.client, s.constraints, s.flowCfg.FullFileUpload)

	if st, err := s.states.Get(ctx, s.flowKey); err == nil {
		if st.ChatID != "" {
			s.session.ChatID = st.ChatID
		}
		if st.Lead != nil {
			s.leadSaved = true
			s.leadEmail = st.Lead.Email
		}
	} else if !errors.Is(err, domain.ErrFlowStateMissing) {
		slog.Warn("read persisted flow state", "error", err)
	}

	// Prior transcript restore is best effort; a fresh greeting is fine.
	if messages, chatID, err := s.client.History(ctx, s.session.FlowID); err != nil {
		slog.Warn("restore transcript history", "error", err)
	} else if len(messages) > 0 {
		for _, m := range messages {
			s.store.Append(m)
		}
		if chatID != "" {
			s.session.ChatID = chatID
			s.persistChatID(ctx)
		}
	}

	if s.flowCfg.Leads != nil && s.flowCfg.Leads.Status && !s.leadSaved {
		s.leadRef = s.store.Append(domain.Message{Role: domain.RoleLeadCapture})
		s.hasLeadRef = true
	}
	return nil
}

// Session returns the current correlation identifiers.
func (s *Session) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Transcript returns an ordered snapshot of all messages.
func (s *Session) Transcript() []domain.Message { return s.store.Snapshot() }

// Streaming reports the delivery path chosen at session open.
func (s *Session) Streaming() bool { return s.streaming }

func (s *Session) StarterPrompts() []string {
	if s.flowCfg == nil {
		return nil
	}
	return s.flowCfg.StarterPrompts
}

func (s *Session) FeedbackEnabled() bool {
	return s.flowCfg != nil && s.flowCfg.ChatFeedback
}

// Form returns the form-input start node config, or nil for free-text
// flows.
func (s *Session) Form() *flowise.FormConfig {
	if s.flowCfg == nil {
		return nil
	}
	return s.flowCfg.Form
}

// RecallBack steps the input history toward older entries, preserving the
// caller's draft on the first step.
func (s *Session) RecallBack(draft string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recall.RecallBack(draft)
}

// RecallForward steps back toward newer entries and finally the preserved
// draft.
func (s *Session) RecallForward() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recall.RecallForward()
}

// StageFiles classifies and encodes a batch of local files into attachment
// drafts. One rejection discards the entire batch and raises a warning.
func (s *Session) StageFiles(ctx context.Context, sources []attachment.Source) error {
	for _, src := range sources {
		if !s.pipeline.Classify(attachment.FileInfo{Name: src.Name, MIME: src.MIME, Size: src.Size}) {
			s.notify(LevelWarn, "Cannot upload file. Kindly check the allowed file types and maximum allowed size.")
			return fmt.Errorf("%w: %s", domain.ErrUploadRejected, src.Name)
		}
	}

	drafts, staged, err := s.pipeline.EncodeBatch(ctx, sources)
	if err != nil {
		slog.Warn("encode attachment batch", "error", err)
	}

	s.mu.Lock()
	s.drafts = append(s.drafts, drafts...)
	s.staged = append(s.staged, staged...)
	s.mu.Unlock()
	return nil
}

// StageRecording stages a just-recorded audio clip. Recordings are
// produced by the surface itself, so the drop classification rules do not
// apply; the clip travels inline with the prediction payload.
func (s *Session) StageRecording(ctx context.Context, src attachment.Source) error {
	drafts, staged, err := s.pipeline.EncodeBatch(ctx, []attachment.Source{src})
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	s.mu.Lock()
	s.drafts = append(s.drafts, drafts...)
	s.staged = append(s.staged, staged...)
	s.mu.Unlock()
	return nil
}

// StageTextFragment stages a drag-sourced text fragment as a URL
// attachment; fragments carrying no link are ignored.
func (s *Session) StageTextFragment(fragmentType, data string) {
	a := attachment.FromTextFragment(fragmentType, data)
	if a == nil {
		return
	}
	s.mu.Lock()
	s.drafts = append(s.drafts, *a)
	s.mu.Unlock()
}

// Drafts returns the currently staged attachment drafts.
func (s *Session) Drafts() []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Attachment(nil), s.drafts...)
}

// ClearDrafts discards all staged drafts.
func (s *Session) ClearDrafts() {
	s.mu.Lock()
	s.drafts = nil
	s.staged = nil
	s.mu.Unlock()
}

// Stop requests cancellation of the active turn. The session enters a
// non-reentrant stopping state until the terminal abort event (streaming)
// or call resolution (synchronous) confirms termination.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.turnActive {
		s.mu.Unlock()
		return domain.ErrNoActiveTurn
	}
	if s.stopping {
		s.mu.Unlock()
		return domain.ErrAlreadyStopping
	}
	s.stopping = true
	session := s.session
	s.mu.Unlock()

	if err := s.client.Abort(ctx, session.FlowID, session.ChatID); err != nil {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
		s.notify(LevelError, errorMessage(err))
		return err
	}
	return nil
}

// SubmitFeedback records a rating against a completed assistant message.
func (s *Session) SubmitFeedback(ctx context.Context, messageID string, rating domain.FeedbackRating, content string) error {
	if messageID == "" {
		return fmt.Errorf("submit feedback: message has no server id")
	}
	session := s.Session()
	feedbackID, err := s.client.SubmitFeedback(ctx, session.FlowID, session.ChatID, messageID, rating, content)
	if err != nil {
		return err
	}
	s.store.MutateByID(messageID, func(m *domain.Message) {
		m.Feedback = &domain.Feedback{ID: feedbackID, Rating: rating, Content: content}
	})
	return nil
}

// LeadRequired reports whether lead capture still blocks the conversation.
func (s *Session) LeadRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leadRequiredLocked()
}

func (s *Session) leadRequiredLocked() bool {
	return s.flowCfg != nil && s.flowCfg.Leads != nil && s.flowCfg.Leads.Status && !s.leadSaved
}

// SaveLead registers the visitor's contact details, persists them with the
// chat id, and resolves the lead-capture message.
func (s *Session) SaveLead(ctx context.Context, lead domain.Lead) error {
	session := s.Session()
	if err := s.client.SaveLead(ctx, session.FlowID, session.ChatID, lead); err != nil {
		return err
	}
	if err := s.states.SetLead(ctx, s.flowKey, lead); err != nil {
		slog.Warn("persist lead", "error", err)
	}

	s.mu.Lock()
	s.leadSaved = true
	s.leadEmail = lead.Email
	hasRef, ref := s.hasLeadRef, s.leadRef
	success := ""
	if s.flowCfg != nil && s.flowCfg.Leads != nil {
		success = s.flowCfg.Leads.SuccessMessage
	}
	s.mu.Unlock()

	if success == "" {
		success = "Thank you for submitting your contact information."
	}
	if hasRef {
		s.store.Rewrite(ref, func(m *domain.Message) { m.Text = success })
	}
	return nil
}

func (s *Session) setChatID(id string) {
	s.mu.Lock()
	s.session.ChatID = id
	s.mu.Unlock()
}

func (s *Session) persistChatID(ctx context.Context) {
	session := s.Session()
	if err := s.states.SetChatID(ctx, s.flowKey, session.ChatID); err != nil {
		slog.Warn("persist chat id", "error", err, "flow", session.FlowID)
	}
}

func (s *Session) notify(level Level, message string) {
	if s.hooks.Notify != nil {
		s.hooks.Notify(level, message)
	}
}
