// Package stream folds a turn's typed event sequence into transcript
// mutations.
package stream

import (
	"encoding/json"

	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/transcript"
)

// Outcome is the terminal result of one reduced turn.
type Outcome string

const (
	OutcomeEnded   Outcome = "ended"
	OutcomeErrored Outcome = "errored"
	OutcomeAborted Outcome = "aborted"
)

// Hooks are the external collaborators a turn reports to. Every field is
// optional.
type Hooks struct {
	// NodeStatus receives nextAgentFlow payloads unchanged.
	NodeStatus func(json.RawMessage)
	// FollowUps receives parsed follow-up prompt suggestions.
	FollowUps func([]string)
	// ChatID is called when the server reassigns the session chat id.
	ChatID func(string)
	// Persist is called on end to store the session correlation.
	Persist func()
	// Aborted signals user-visible cancellation.
	Aborted func()
}

// Reducer consumes one strictly-ordered event sequence for a single turn.
// The assistant message created by the start event is tracked by an
// explicit handle, so a message appended later by an unrelated path can
// never become the target by position.
type Reducer struct {
	store     *transcript.Store
	userRef   transcript.Ref
	input     string
	hooks     Hooks
	target    transcript.Ref
	hasTarget bool
	done      bool
	outcome   Outcome
}

// New prepares a reducer for one turn. userRef is the handle of the turn's
// user message and input its original text; both serve the metadata
// question backfill.
func New(store *transcript.Store, userRef transcript.Ref, input string, hooks Hooks) *Reducer {
	return &Reducer{store: store, userRef: userRef, input: input, hooks: hooks}
}

// Done reports whether a terminal event has been processed.
func (r *Reducer) Done() bool { return r.done }

// Outcome is valid once Done reports true.
func (r *Reducer) Outcome() Outcome { return r.outcome }

// Feed applies one event and reports whether the turn terminated. Events
// after termination are ignored.
func (r *Reducer) Feed(ev domain.StreamEvent) bool {
	if r.done {
		return true
	}
	switch ev.Kind {
	case domain.EventStart:
		r.target = r.store.Append(domain.Message{Role: domain.RoleAssistant})
		r.hasTarget = true

	case domain.EventToken:
		r.mutate(func(m *domain.Message) {
			m.Text += ev.Token
			m.Feedback = nil
		})

	case domain.EventSourceDocuments:
		r.mutate(func(m *domain.Message) { m.SourceDocuments = ev.SourceDocuments })

	case domain.EventUsedTools:
		r.mutate(func(m *domain.Message) { m.UsedTools = ev.UsedTools })

	case domain.EventFileAnnotations:
		r.mutate(func(m *domain.Message) { m.FileAnnotations = ev.FileAnnotations })

	case domain.EventAgentReasoning:
		r.mutate(func(m *domain.Message) { m.AgentReasoning = ev.AgentReasoning })

	case domain.EventNextAgent:
		r.mutate(func(m *domain.Message) {
			if len(m.AgentReasoning) > 0 {
				m.AgentReasoning = append(m.AgentReasoning, domain.ReasoningStep{NextAgent: ev.NextAgent})
			}
		})

	case domain.EventNextAgentFlow:
		if r.hooks.NodeStatus != nil {
			r.hooks.NodeStatus(ev.NodeStatus)
		}

	case domain.EventAgentFlowEvent:
		if ev.FlowStatus == "INPROGRESS" {
			r.target = r.store.Append(domain.Message{
				Role:            domain.RoleAssistant,
				AgentFlowStatus: ev.FlowStatus,
			})
			r.hasTarget = true
		} else {
			r.mutate(func(m *domain.Message) { m.AgentFlowStatus = ev.FlowStatus })
		}

	case domain.EventAgentFlowExecutedData:
		r.mutate(func(m *domain.Message) { m.AgentFlowExecutedData = ev.ExecutedData })

	case domain.EventAction:
		r.mutate(func(m *domain.Message) { m.Action = ev.Action })

	case domain.EventArtifacts:
		r.mutate(func(m *domain.Message) { m.Artifacts = ev.Artifacts })

	case domain.EventMetadata:
		r.applyMetadata(ev.Metadata)

	case domain.EventError:
		// The unfinished placeholder stays in the transcript as a partial
		// message; the error gets its own entry.
		r.store.Append(domain.Message{Role: domain.RoleAssistant, Text: ev.ErrorMessage})
		r.finish(OutcomeErrored)

	case domain.EventAbort:
		r.mutate(func(m *domain.Message) {
			m.AgentReasoning = TrimNextAgentMarkers(m.AgentReasoning)
		})
		if r.hooks.Aborted != nil {
			r.hooks.Aborted()
		}
		r.finish(OutcomeAborted)

	case domain.EventEnd:
		if r.hooks.Persist != nil {
			r.hooks.Persist()
		}
		r.finish(OutcomeEnded)
	}
	return r.done
}

func (r *Reducer) applyMetadata(md *domain.Metadata) {
	if md == nil {
		return
	}
	if md.ChatMessageID != "" {
		r.mutate(func(m *domain.Message) { m.ID = md.ChatMessageID })
	}
	if md.ChatID != "" && r.hooks.ChatID != nil {
		r.hooks.ChatID(md.ChatID)
	}
	// An audio-derived turn starts with empty input; the server resolves
	// the transcribed question and sends it back here.
	if r.input == "" && md.Question != "" {
		r.store.Rewrite(r.userRef, func(m *domain.Message) { m.Text = md.Question })
	}
	if prompts := domain.ParseFollowUpPrompts(md.FollowUpPrompts); len(prompts) > 0 {
		r.mutate(func(m *domain.Message) { m.FollowUpPrompts = prompts })
		if r.hooks.FollowUps != nil {
			r.hooks.FollowUps(prompts)
		}
	}
}

func (r *Reducer) mutate(transform func(*domain.Message)) bool {
	if r.hasTarget {
		return r.store.Mutate(r.target, transform)
	}
	return r.store.MutateTail(transform)
}

func (r *Reducer) finish(o Outcome) {
	r.done = true
	r.outcome = o
}

// TrimNextAgentMarkers drops the maximal trailing run of reasoning steps
// that consist solely of a next-agent marker: the unresolved hand-off
// indicator left behind by a cancelled branch.
func TrimNextAgentMarkers(steps []domain.ReasoningStep) []domain.ReasoningStep {
	for len(steps) > 0 && steps[len(steps)-1].IsNextAgentMarker() {
		steps = steps[:len(steps)-1]
	}
	return steps
}
