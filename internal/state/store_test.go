package state

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowchat "github.com/set-night/flowchat"
	"github.com/set-night/flowchat/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	migrations, err := fs.Sub(flowchat.MigrationsFS, "migrations")
	require.NoError(t, err)

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), migrations)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "flow-1")
	assert.ErrorIs(t, err, domain.ErrFlowStateMissing)
}

func TestSetChatIDRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetChatID(ctx, "flow-1", "chat-a"))
	st, err := s.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-a", st.ChatID)
	assert.Nil(t, st.Lead)

	// Reassignment overwrites.
	require.NoError(t, s.SetChatID(ctx, "flow-1", "chat-b"))
	st, err = s.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-b", st.ChatID)
}

func TestSetLeadKeepsChatID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetChatID(ctx, "flow-1", "chat-a"))
	require.NoError(t, s.SetLead(ctx, "flow-1", domain.Lead{Name: "Ada", Email: "ada@example.com"}))

	st, err := s.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-a", st.ChatID)
	require.NotNil(t, st.Lead)
	assert.Equal(t, "ada@example.com", st.Lead.Email)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetChatID(ctx, "flow-1", "chat-a"))
	require.NoError(t, s.Delete(ctx, "flow-1"))

	_, err := s.Get(ctx, "flow-1")
	assert.ErrorIs(t, err, domain.ErrFlowStateMissing)
}
