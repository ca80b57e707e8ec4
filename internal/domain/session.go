package domain

// Session correlates all messages and network calls of one conversation.
// ChatID starts as a locally generated UUID and may be reassigned by the
// server on the first turn or on a server-driven continuation.
type Session struct {
	FlowID string
	ChatID string
}

type Lead struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// FlowState is the persisted record kept per flow key by the local state
// store.
type FlowState struct {
	ChatID string
	Lead   *Lead
}
