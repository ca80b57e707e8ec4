package domain

import (
	"encoding/json"
	"fmt"
)

type EventKind string

const (
	EventStart                 EventKind = "start"
	EventToken                 EventKind = "token"
	EventSourceDocuments       EventKind = "sourceDocuments"
	EventUsedTools             EventKind = "usedTools"
	EventFileAnnotations       EventKind = "fileAnnotations"
	EventAgentReasoning        EventKind = "agentReasoning"
	EventNextAgent             EventKind = "nextAgent"
	EventNextAgentFlow         EventKind = "nextAgentFlow"
	EventAgentFlowEvent        EventKind = "agentFlowEvent"
	EventAgentFlowExecutedData EventKind = "agentFlowExecutedData"
	EventAction                EventKind = "action"
	EventArtifacts             EventKind = "artifacts"
	EventMetadata              EventKind = "metadata"
	EventError                 EventKind = "error"
	EventAbort                 EventKind = "abort"
	EventEnd                   EventKind = "end"
)

// StreamEvent is one element of a turn's server-push sequence. Kind selects
// which payload field is populated; the variants are closed and a payload
// that does not match its kind's shape is rejected at decode time rather
// than coerced.
type StreamEvent struct {
	Kind EventKind

	Token           string
	SourceDocuments []SourceDocument
	UsedTools       []UsedTool
	FileAnnotations []FileAnnotation
	AgentReasoning  []ReasoningStep
	NextAgent       string
	NodeStatus      json.RawMessage
	FlowStatus      string
	ExecutedData    json.RawMessage
	Action          *Action
	Artifacts       []Artifact
	Metadata        *Metadata
	ErrorMessage    string
}

// Terminal reports whether the event ends the turn.
func (e StreamEvent) Terminal() bool {
	switch e.Kind {
	case EventEnd, EventError, EventAbort:
		return true
	}
	return false
}

// Metadata is the server-issued correlation payload delivered once per turn.
type Metadata struct {
	ChatID          string `json:"chatId"`
	ChatMessageID   string `json:"chatMessageId"`
	Question        string `json:"question"`
	SessionID       string `json:"sessionId"`
	MemoryType      string `json:"memoryType"`
	FollowUpPrompts string `json:"followUpPrompts"`
}

// DecodeStreamEvent parses one {event, data} envelope into a typed event.
func DecodeStreamEvent(raw []byte) (StreamEvent, error) {
	var env struct {
		Event EventKind       `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("%w: %v", ErrBadEventPayload, err)
	}

	ev := StreamEvent{Kind: env.Event}
	var err error
	switch env.Event {
	case EventStart, EventAbort, EventEnd:
		// Payload carries no information for these kinds.
	case EventToken:
		err = decodePayload(env.Data, &ev.Token)
	case EventSourceDocuments:
		err = decodePayload(env.Data, &ev.SourceDocuments)
	case EventUsedTools:
		err = decodePayload(env.Data, &ev.UsedTools)
	case EventFileAnnotations:
		err = decodePayload(env.Data, &ev.FileAnnotations)
	case EventAgentReasoning:
		err = decodePayload(env.Data, &ev.AgentReasoning)
	case EventNextAgent:
		err = decodePayload(env.Data, &ev.NextAgent)
	case EventNextAgentFlow:
		ev.NodeStatus = append(json.RawMessage(nil), env.Data...)
	case EventAgentFlowEvent:
		err = decodePayload(env.Data, &ev.FlowStatus)
	case EventAgentFlowExecutedData:
		ev.ExecutedData = append(json.RawMessage(nil), env.Data...)
	case EventAction:
		ev.Action = &Action{}
		err = decodePayload(env.Data, ev.Action)
	case EventArtifacts:
		err = decodePayload(env.Data, &ev.Artifacts)
	case EventMetadata:
		ev.Metadata = &Metadata{}
		err = decodePayload(env.Data, ev.Metadata)
	case EventError:
		err = decodePayload(env.Data, &ev.ErrorMessage)
	default:
		return StreamEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return StreamEvent{}, fmt.Errorf("decode %s event: %w", env.Event, err)
	}
	return ev, nil
}

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEventPayload, err)
	}
	return nil
}

// ParseFollowUpPrompts tolerates the server's habit of double-encoding the
// prompt list.
func ParseFollowUpPrompts(raw string) []string {
	if raw == "" {
		return nil
	}
	var prompts []string
	if err := json.Unmarshal([]byte(raw), &prompts); err == nil {
		return prompts
	}
	var nested string
	if err := json.Unmarshal([]byte(raw), &nested); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(nested), &prompts); err != nil {
		return nil
	}
	return prompts
}
