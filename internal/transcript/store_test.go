package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/flowchat/internal/domain"
)

func TestNewSeedsGreeting(t *testing.T) {
	s := New("Hi there! How can I help?")
	require.Equal(t, 1, s.Len())
	tail := s.Tail()
	assert.Equal(t, domain.RoleAssistant, tail.Role)
	assert.Equal(t, "Hi there! How can I help?", tail.Text)
}

func TestMutateTailGuardsUserMessage(t *testing.T) {
	s := New("hi")
	s.Append(domain.Message{Role: domain.RoleUser, Text: "hello"})

	ok := s.MutateTail(func(m *domain.Message) { m.Text += " mutated" })

	assert.False(t, ok)
	assert.Equal(t, "hello", s.Tail().Text)
}

func TestMutateByRef(t *testing.T) {
	s := New("hi")
	ref := s.Append(domain.Message{Role: domain.RoleAssistant})
	s.Append(domain.Message{Role: domain.RoleUser, Text: "later"})

	ok := s.Mutate(ref, func(m *domain.Message) { m.Text = "filled" })

	require.True(t, ok)
	msg, found := s.Get(ref)
	require.True(t, found)
	assert.Equal(t, "filled", msg.Text)
	assert.Equal(t, "later", s.Tail().Text)
}

func TestMutateOutOfRange(t *testing.T) {
	s := New("hi")
	assert.False(t, s.Mutate(Ref(5), func(m *domain.Message) { m.Text = "x" }))
	assert.False(t, s.Mutate(Ref(-1), func(m *domain.Message) { m.Text = "x" }))
}

func TestSnapshotIsolation(t *testing.T) {
	s := New("hi")
	ref := s.Append(domain.Message{
		Role:           domain.RoleAssistant,
		Text:           "partial",
		AgentReasoning: []domain.ReasoningStep{{AgentName: "planner"}},
	})

	before := s.Snapshot()
	s.Mutate(ref, func(m *domain.Message) {
		m.Text += " more"
		m.AgentReasoning = append(m.AgentReasoning, domain.ReasoningStep{NextAgent: "worker"})
	})

	assert.Equal(t, "partial", before[1].Text)
	assert.Len(t, before[1].AgentReasoning, 1)

	after := s.Snapshot()
	assert.Equal(t, "partial more", after[1].Text)
	assert.Len(t, after[1].AgentReasoning, 2)
}

func TestRewriteIgnoresRoleGuard(t *testing.T) {
	s := New("hi")
	ref := s.Append(domain.Message{Role: domain.RoleUser, Text: ""})

	ok := s.Rewrite(ref, func(m *domain.Message) { m.Text = "resolved question" })

	require.True(t, ok)
	msg, _ := s.Get(ref)
	assert.Equal(t, "resolved question", msg.Text)
}
