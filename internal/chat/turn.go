package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/set-night/flowchat/internal/attachment"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
	"github.com/set-night/flowchat/internal/stream"
	"github.com/set-night/flowchat/internal/transcript"
)

// submission is one fully-resolved turn request, regardless of which
// surface gesture produced it.
type submission struct {
	display    string
	question   string
	form       map[string]string
	action     *domain.Action
	humanInput *domain.HumanInput
	// resolves marks submissions that answer the pending action prompt
	// and are therefore exempt from the unresolved-action guard.
	resolves bool
	// record adds the question to the input recall buffer.
	record bool
}

// CanSubmit validates free text against the current draft set without
// starting a turn.
func (s *Session) CanSubmit(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSubmitLocked(text)
}

func (s *Session) canSubmitLocked(text string) error {
	if s.leadRequiredLocked() {
		return domain.ErrLeadRequired
	}
	if strings.TrimSpace(text) != "" {
		return nil
	}
	if len(s.drafts) == 0 {
		return domain.ErrEmptySubmission
	}
	// Bare images and audio may go caption-less; anything else needs text.
	for _, d := range s.drafts {
		if !strings.HasPrefix(d.MIME, "image") && d.Kind != domain.AttachmentAudio {
			return domain.ErrEmptySubmission
		}
	}
	return nil
}

// Submit runs one free-text turn. An empty question with audio drafts is
// valid; the backend's transcription backfills it via metadata.
func (s *Session) Submit(ctx context.Context, text string) error {
	if err := s.CanSubmit(text); err != nil {
		return err
	}
	return s.run(ctx, submission{display: text, question: text, record: true})
}

// SubmitPrompt runs a turn for a clicked starter or follow-up prompt.
func (s *Session) SubmitPrompt(ctx context.Context, prompt string) error {
	return s.run(ctx, submission{display: prompt, question: prompt, record: true})
}

// SubmitForm runs a form-driven turn. The user message shows a flattened
// "label: value" rendering while the structured values travel separately.
func (s *Session) SubmitForm(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return domain.ErrEmptySubmission
	}
	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	lines := make([]string, 0, len(labels))
	for _, label := range labels {
		lines = append(lines, fmt.Sprintf("%s: %s", label, values[label]))
	}
	return s.run(ctx, submission{display: strings.Join(lines, "\n"), form: values})
}

// SubmitAction answers an interactive action prompt with the chosen
// element. When the action requires written feedback before proceeding,
// SubmitAction holds the answer and returns ErrFeedbackRequired; the
// surface collects the text and calls SubmitActionFeedback.
func (s *Session) SubmitAction(ctx context.Context, elem domain.ActionElement, action domain.Action) error {
	s.store.MutateTail(func(m *domain.Message) { m.Action = nil })

	if strings.Contains(elem.Type, "agentflowv2") {
		fbType := "reject"
		if strings.Contains(elem.Type, "approve") {
			fbType = "proceed"
		}
		if action.Data.Input.HumanInputEnableFeedback {
			s.mu.Lock()
			s.pending = &pendingAction{data: action.Data, fbType: fbType}
			s.mu.Unlock()
			return domain.ErrFeedbackRequired
		}
		return s.submitHumanInput(ctx, action.Data, fbType, "")
	}

	return s.run(ctx, submission{
		display:  elem.Label,
		question: elem.Label,
		action:   &action,
		resolves: true,
	})
}

// SubmitActionFeedback completes a feedback-gated action answer with the
// user's written feedback, which may be empty.
func (s *Session) SubmitActionFeedback(ctx context.Context, feedback string) error {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("no action awaiting feedback")
	}
	return s.submitHumanInput(ctx, p.data, p.fbType, feedback)
}

func (s *Session) submitHumanInput(ctx context.Context, data domain.ActionData, fbType, feedback string) error {
	question := strings.TrimSpace(feedback)
	if question == "" {
		question = capitalize(fbType)
	}
	return s.run(ctx, submission{
		display:  question,
		question: question,
		humanInput: &domain.HumanInput{
			Type:        fbType,
			StartNodeID: data.NodeID,
			Feedback:    feedback,
		},
		resolves: true,
	})
}

// run executes one turn end to end: guards, upload, user message, dispatch
// on the delivery path, and unconditional post-turn reset.
func (s *Session) run(ctx context.Context, sub submission) error {
	s.mu.Lock()
	if s.turnActive {
		s.mu.Unlock()
		return domain.ErrTurnActive
	}
	if !sub.resolves {
		if tail := s.store.Tail(); tail.Action != nil && len(tail.Action.Elements) > 0 {
			s.mu.Unlock()
			return domain.ErrActionPending
		}
	}
	s.turnActive = true
	drafts := s.drafts
	staged := s.staged
	leadEmail := s.leadEmail
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.turnActive = false
		s.stopping = false
		s.mu.Unlock()
		if s.hooks.TurnDone != nil {
			s.hooks.TurnDone()
		}
	}()

	if sub.record {
		s.mu.Lock()
		s.recall.Add(sub.question)
		s.mu.Unlock()
	}

	uploads, err := s.uploadDrafts(ctx, drafts, staged)
	if err != nil {
		return err
	}

	if s.hooks.ClearNodeStatus != nil {
		s.hooks.ClearNodeStatus()
	}

	userRef := s.store.Append(domain.Message{
		Role:        domain.RoleUser,
		Text:        sub.display,
		FileUploads: uploads,
	})

	session := s.Session()
	req := flowise.PredictionRequest{
		Question:   sub.question,
		Form:       sub.form,
		ChatID:     session.ChatID,
		Uploads:    flowise.UploadsFrom(uploads),
		LeadEmail:  leadEmail,
		Action:     sub.action,
		HumanInput: sub.humanInput,
	}

	if s.streaming {
		return s.runStream(ctx, userRef, sub.question, req)
	}
	return s.runSync(ctx, userRef, sub.question, req)
}

// uploadDrafts pushes staged files to the backend. On failure the drafts
// are dropped and an error message lands in the transcript; the turn does
// not proceed.
func (s *Session) uploadDrafts(ctx context.Context, drafts []domain.Attachment, staged []attachment.StagedFile) ([]domain.Attachment, error) {
	session := s.Session()
	uploaded, err := s.pipeline.Upload(ctx, session, drafts, staged)
	if err != nil {
		s.ClearDrafts()
		s.store.Append(domain.Message{Role: domain.RoleAssistant, Text: config.UploadFailedMessage})
		s.notify(LevelError, config.UploadFailedMessage)
		return nil, err
	}
	s.ClearDrafts()
	return uploaded, nil
}

func (s *Session) runStream(ctx context.Context, userRef transcript.Ref, input string, req flowise.PredictionRequest) error {
	session := s.Session()
	events, err := s.client.StreamPredict(ctx, session.FlowID, req)
	if err != nil {
		s.appendTurnError(err)
		return err
	}

	red := stream.New(s.store, userRef, input, stream.Hooks{
		NodeStatus: s.hooks.NodeStatus,
		FollowUps:  s.hooks.FollowUps,
		ChatID:     s.setChatID,
		Persist:    func() { s.persistChatID(ctx) },
		Aborted:    func() { s.notify(LevelSuccess, "Message stopped") },
	})
	for ev := range events {
		if red.Feed(ev) {
			break
		}
	}
	return nil
}

func (s *Session) runSync(ctx context.Context, userRef transcript.Ref, input string, req flowise.PredictionRequest) error {
	session := s.Session()
	resp, err := s.client.Predict(ctx, session.FlowID, req)
	if err != nil {
		s.appendTurnError(err)
		return err
	}

	if resp.ChatID != "" {
		s.setChatID(resp.ChatID)
	}

	msg := domain.Message{
		Role:                  domain.RoleAssistant,
		ID:                    resp.ChatMessageID,
		Text:                  resp.DisplayText(),
		SourceDocuments:       resp.SourceDocuments,
		UsedTools:             resp.UsedTools,
		FileAnnotations:       resp.FileAnnotations,
		AgentReasoning:        resp.AgentReasoning,
		AgentFlowExecutedData: resp.AgentFlowExecutedData,
		Action:                resp.Action,
		Artifacts:             resp.Artifacts,
	}
	if prompts := domain.ParseFollowUpPrompts(resp.FollowUpPrompts); len(prompts) > 0 {
		msg.FollowUpPrompts = prompts
		if s.hooks.FollowUps != nil {
			s.hooks.FollowUps(prompts)
		}
	}
	s.store.Append(msg)

	// Voice-only turns come back with the transcribed question.
	if input == "" && resp.Question != "" {
		s.store.Rewrite(userRef, func(m *domain.Message) { m.Text = resp.Question })
	}

	s.persistChatID(ctx)

	s.mu.Lock()
	stopped := s.stopping
	s.mu.Unlock()
	if stopped {
		s.store.MutateTail(func(m *domain.Message) {
			m.AgentReasoning = stream.TrimNextAgentMarkers(m.AgentReasoning)
		})
		s.notify(LevelSuccess, "Message stopped")
	}
	return nil
}

// appendTurnError surfaces a failed turn as an assistant error message so
// the transcript records the failure in order.
func (s *Session) appendTurnError(err error) {
	msg := errorMessage(err)
	s.store.Append(domain.Message{Role: domain.RoleAssistant, Text: msg})
	s.notify(LevelError, msg)
}

// errorMessage maps a turn failure to user-facing text: the server's own
// message when one exists, with known agent boilerplate stripped, or a
// generic fallback.
func errorMessage(err error) string {
	var apiErr *flowise.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return strings.TrimPrefix(apiErr.Message, config.StrippedErrorPrefix)
	}
	return config.GenericErrorMessage
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
