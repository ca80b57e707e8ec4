package domain

import "encoding/json"

type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleLeadCapture Role = "leadCapture"
)

// Message is one entry of a session transcript. While a turn streams, the
// assistant message created by its start event is the only mutable entry;
// once the turn terminates the message is frozen.
type Message struct {
	ID   string
	Role Role
	Text string

	SourceDocuments       []SourceDocument
	UsedTools             []UsedTool
	FileAnnotations       []FileAnnotation
	AgentReasoning        []ReasoningStep
	AgentFlowExecutedData json.RawMessage
	AgentFlowStatus       string
	Action                *Action
	Artifacts             []Artifact
	FileUploads           []Attachment
	Feedback              *Feedback
	FollowUpPrompts       []string
}

// Clone returns a deep copy so readers holding earlier snapshots never
// observe later mutations.
func (m Message) Clone() Message {
	c := m
	c.SourceDocuments = append([]SourceDocument(nil), m.SourceDocuments...)
	c.UsedTools = append([]UsedTool(nil), m.UsedTools...)
	c.FileAnnotations = append([]FileAnnotation(nil), m.FileAnnotations...)
	c.AgentReasoning = append([]ReasoningStep(nil), m.AgentReasoning...)
	c.AgentFlowExecutedData = append(json.RawMessage(nil), m.AgentFlowExecutedData...)
	c.Artifacts = append([]Artifact(nil), m.Artifacts...)
	c.FileUploads = append([]Attachment(nil), m.FileUploads...)
	c.FollowUpPrompts = append([]string(nil), m.FollowUpPrompts...)
	if m.Action != nil {
		a := m.Action.Clone()
		c.Action = &a
	}
	if m.Feedback != nil {
		f := *m.Feedback
		c.Feedback = &f
	}
	return c
}

type SourceDocument struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type UsedTool struct {
	Tool       string          `json:"tool"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
}

type FileAnnotation struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
}

// ReasoningStep is one entry of an assistant message's agent-reasoning
// trace. A step carrying only NextAgent is a hand-off marker appended while
// the next agent has not produced output yet.
type ReasoningStep struct {
	AgentName       string           `json:"agentName,omitempty"`
	Messages        []string         `json:"messages,omitempty"`
	Instructions    string           `json:"instructions,omitempty"`
	NodeName        string           `json:"nodeName,omitempty"`
	UsedTools       []UsedTool       `json:"usedTools,omitempty"`
	SourceDocuments []SourceDocument `json:"sourceDocuments,omitempty"`
	NextAgent       string           `json:"nextAgent,omitempty"`
}

// IsNextAgentMarker reports whether the step carries nothing but a hand-off
// marker.
func (s ReasoningStep) IsNextAgentMarker() bool {
	return s.NextAgent != "" &&
		s.AgentName == "" &&
		len(s.Messages) == 0 &&
		s.Instructions == "" &&
		s.NodeName == "" &&
		len(s.UsedTools) == 0 &&
		len(s.SourceDocuments) == 0
}

type Artifact struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Action describes a pending interactive prompt attached to an assistant
// message: the turn cannot be followed by a new one until it is answered or
// cleared.
type Action struct {
	ID       string          `json:"id"`
	Elements []ActionElement `json:"elements"`
	Data     ActionData      `json:"data"`
}

func (a Action) Clone() Action {
	c := a
	c.Elements = append([]ActionElement(nil), a.Elements...)
	return c
}

type ActionElement struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type ActionData struct {
	NodeID string      `json:"nodeId"`
	Input  ActionInput `json:"input"`
}

type ActionInput struct {
	HumanInputEnableFeedback bool `json:"humanInputEnableFeedback"`
}

// HumanInput is the reply sent back for an answered action.
type HumanInput struct {
	Type        string `json:"type"`
	StartNodeID string `json:"startNodeId,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

type FeedbackRating string

const (
	FeedbackThumbsUp   FeedbackRating = "THUMBS_UP"
	FeedbackThumbsDown FeedbackRating = "THUMBS_DOWN"
)

type Feedback struct {
	ID      string
	Rating  FeedbackRating
	Content string
}
