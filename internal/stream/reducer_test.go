package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/transcript"
)

func newTurn(t *testing.T, input string, hooks Hooks) (*transcript.Store, *Reducer) {
	t.Helper()
	store := transcript.New("greeting")
	userRef := store.Append(domain.Message{Role: domain.RoleUser, Text: input})
	return store, New(store, userRef, input, hooks)
}

func TestTokensConcatenateInOrder(t *testing.T) {
	store, r := newTurn(t, "hello", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "Hi"})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: " there"})
	done := r.Feed(domain.StreamEvent{Kind: domain.EventEnd})

	require.True(t, done)
	assert.Equal(t, OutcomeEnded, r.Outcome())

	msgs := store.Snapshot()
	require.Len(t, msgs, 3) // greeting, user, assistant
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Hi there", msgs[2].Text)
}

func TestSourceDocumentsReplaceOnTarget(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	docs := []domain.SourceDocument{{PageContent: "chunk one"}}
	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "Hi"})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: " there"})
	r.Feed(domain.StreamEvent{Kind: domain.EventSourceDocuments, SourceDocuments: docs})
	r.Feed(domain.StreamEvent{Kind: domain.EventEnd})

	tail := store.Tail()
	assert.Equal(t, "Hi there", tail.Text)
	assert.Equal(t, docs, tail.SourceDocuments)
	assert.Equal(t, 3, store.Len())
}

func TestAgentReasoningIsSnapshotReplace(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventAgentReasoning, AgentReasoning: []domain.ReasoningStep{
		{AgentName: "planner", Messages: []string{"thinking"}},
	}})
	r.Feed(domain.StreamEvent{Kind: domain.EventAgentReasoning, AgentReasoning: []domain.ReasoningStep{
		{AgentName: "planner", Messages: []string{"thinking"}},
		{AgentName: "worker", Messages: []string{"doing"}},
	}})

	tail := store.Tail()
	require.Len(t, tail.AgentReasoning, 2)
	assert.Equal(t, "worker", tail.AgentReasoning[1].AgentName)
}

func TestNextAgentAppendsMarkerOnlyWhenReasoningExists(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventNextAgent, NextAgent: "worker"})
	assert.Empty(t, store.Tail().AgentReasoning)

	r.Feed(domain.StreamEvent{Kind: domain.EventAgentReasoning, AgentReasoning: []domain.ReasoningStep{
		{AgentName: "planner"},
	}})
	r.Feed(domain.StreamEvent{Kind: domain.EventNextAgent, NextAgent: "worker"})

	steps := store.Tail().AgentReasoning
	require.Len(t, steps, 2)
	assert.True(t, steps[1].IsNextAgentMarker())
	assert.Equal(t, "worker", steps[1].NextAgent)
}

func TestAbortTrimsTrailingMarkersOnly(t *testing.T) {
	aborted := false
	store, r := newTurn(t, "q", Hooks{Aborted: func() { aborted = true }})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventAgentReasoning, AgentReasoning: []domain.ReasoningStep{
		{NextAgent: "planner"},
		{AgentName: "planner", Messages: []string{"done"}},
		{NextAgent: "worker"},
		{NextAgent: "reviewer"},
	}})
	done := r.Feed(domain.StreamEvent{Kind: domain.EventAbort})

	require.True(t, done)
	assert.Equal(t, OutcomeAborted, r.Outcome())
	assert.True(t, aborted)

	steps := store.Tail().AgentReasoning
	require.Len(t, steps, 2)
	assert.Equal(t, "planner", steps[0].NextAgent) // leading marker untouched
	assert.Equal(t, "planner", steps[1].AgentName)
}

func TestErrorAppendsNewMessageKeepsPartial(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "partial answ"})
	done := r.Feed(domain.StreamEvent{Kind: domain.EventError, ErrorMessage: "model exploded"})

	require.True(t, done)
	assert.Equal(t, OutcomeErrored, r.Outcome())

	msgs := store.Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "partial answ", msgs[2].Text)
	assert.Equal(t, "model exploded", msgs[3].Text)
	assert.Equal(t, domain.RoleAssistant, msgs[3].Role)
}

func TestMetadataAssignsIDChatIDAndBackfill(t *testing.T) {
	var gotChatID string
	var gotPrompts []string
	store := transcript.New("greeting")
	userRef := store.Append(domain.Message{Role: domain.RoleUser, Text: ""})
	r := New(store, userRef, "", Hooks{
		ChatID:    func(id string) { gotChatID = id },
		FollowUps: func(p []string) { gotPrompts = p },
	})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "The answer"})
	r.Feed(domain.StreamEvent{Kind: domain.EventMetadata, Metadata: &domain.Metadata{
		ChatID:          "chat-42",
		ChatMessageID:   "msg-7",
		Question:        "what was recorded",
		FollowUpPrompts: `["and then?","why?"]`,
	}})
	r.Feed(domain.StreamEvent{Kind: domain.EventEnd})

	assert.Equal(t, "chat-42", gotChatID)
	assert.Equal(t, []string{"and then?", "why?"}, gotPrompts)

	msgs := store.Snapshot()
	assert.Equal(t, "what was recorded", msgs[1].Text) // audio question backfilled
	assert.Equal(t, "msg-7", msgs[2].ID)
	assert.Equal(t, []string{"and then?", "why?"}, msgs[2].FollowUpPrompts)
}

func TestMetadataNoBackfillWhenInputPresent(t *testing.T) {
	store, r := newTurn(t, "typed question", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventMetadata, Metadata: &domain.Metadata{
		Question: "server version",
	}})

	assert.Equal(t, "typed question", store.Snapshot()[1].Text)
}

func TestNextAgentFlowForwardsWithoutMutation(t *testing.T) {
	var got json.RawMessage
	store, r := newTurn(t, "q", Hooks{NodeStatus: func(raw json.RawMessage) { got = raw }})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	before := store.Snapshot()
	r.Feed(domain.StreamEvent{Kind: domain.EventNextAgentFlow, NodeStatus: json.RawMessage(`{"nodeId":"n1","status":"INPROGRESS"}`)})

	assert.JSONEq(t, `{"nodeId":"n1","status":"INPROGRESS"}`, string(got))
	assert.Equal(t, before, store.Snapshot())
}

func TestAgentFlowEventInProgressAppendsNewTarget(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventAgentFlowEvent, FlowStatus: "INPROGRESS"})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "running"})
	r.Feed(domain.StreamEvent{Kind: domain.EventAgentFlowEvent, FlowStatus: "FINISHED"})

	tail := store.Tail()
	assert.Equal(t, "running", tail.Text)
	assert.Equal(t, "FINISHED", tail.AgentFlowStatus)
	assert.Equal(t, 3, store.Len())
}

func TestUserTailGuard(t *testing.T) {
	store := transcript.New("greeting")
	userRef := store.Append(domain.Message{Role: domain.RoleUser, Text: "racing"})
	r := New(store, userRef, "racing", Hooks{})

	// No start event arrived; the tail is the user message and must not be
	// touched.
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "ghost"})

	assert.Equal(t, "racing", store.Tail().Text)
}

func TestEventsAfterTerminalIgnored(t *testing.T) {
	store, r := newTurn(t, "q", Hooks{})

	r.Feed(domain.StreamEvent{Kind: domain.EventStart})
	r.Feed(domain.StreamEvent{Kind: domain.EventEnd})
	r.Feed(domain.StreamEvent{Kind: domain.EventToken, Token: "late"})

	assert.Equal(t, "", store.Tail().Text)
}

func TestTrimNextAgentMarkers(t *testing.T) {
	steps := []domain.ReasoningStep{
		{AgentName: "a"},
		{NextAgent: "b"},
	}
	trimmed := TrimNextAgentMarkers(steps)
	require.Len(t, trimmed, 1)

	assert.Empty(t, TrimNextAgentMarkers([]domain.ReasoningStep{{NextAgent: "x"}}))
	assert.Empty(t, TrimNextAgentMarkers(nil))
}
