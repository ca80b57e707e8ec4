package flowise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/set-night/flowchat/internal/domain"
)

// UploadRule is one size-and-type constraint advertised by the flow.
type UploadRule struct {
	FileTypes     []string `json:"fileTypes"`
	MaxUploadSize float64  `json:"maxUploadSize"` // megabytes
}

// UploadConstraints are the flow's upload capabilities, read once per
// session open.
type UploadConstraints struct {
	IsImageUploadAllowed   bool         `json:"isImageUploadAllowed"`
	ImgUploadSizeAndTypes  []UploadRule `json:"imgUploadSizeAndTypes"`
	IsRAGFileUploadAllowed bool         `json:"isRAGFileUploadAllowed"`
	FileUploadSizeAndTypes []UploadRule `json:"fileUploadSizeAndTypes"`
	IsSpeechToTextEnabled  bool         `json:"isSpeechToTextEnabled"`
}

// LeadsConfig mirrors the flow's lead-capture settings.
type LeadsConfig struct {
	Status         bool   `json:"status"`
	Title          string `json:"title"`
	Name           bool   `json:"name"`
	Email          bool   `json:"email"`
	Phone          bool   `json:"phone"`
	SuccessMessage string `json:"successMessage"`
}

// FormInput is one field of a form-input start node.
type FormInput struct {
	Label   string
	Name    string
	Type    string
	Options []string
}

// FormConfig is present when the flow begins with a form-input node; the
// first turn then carries a structured form reply instead of free text.
type FormConfig struct {
	Title       string
	Description string
	Inputs      []FormInput
}

// FlowConfig is the flow's static configuration, read once per session
// open.
type FlowConfig struct {
	StarterPrompts             []string
	ChatFeedback               bool
	Leads                      *LeadsConfig
	FollowUpPrompts            bool
	FullFileUpload             bool
	FullFileUploadAllowedTypes string
	Form                       *FormConfig
}

// Streaming reports whether the flow supports the streaming delivery path.
func (c *Client) Streaming(ctx context.Context, flowID string) (bool, error) {
	var result struct {
		IsStreaming bool `json:"isStreaming"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/chatflows-streaming/%s", flowID), &result); err != nil {
		return false, err
	}
	return result.IsStreaming, nil
}

// UploadConstraints reads the flow's upload capabilities.
func (c *Client) UploadConstraints(ctx context.Context, flowID string) (*UploadConstraints, error) {
	constraints := &UploadConstraints{}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/chatflows-uploads/%s", flowID), constraints); err != nil {
		return nil, err
	}
	return constraints, nil
}

// FlowConfig reads and parses the flow's static configuration: the chatbot
// config JSON and, for agent flows, the start node of the flow graph.
func (c *Client) FlowConfig(ctx context.Context, flowID string) (*FlowConfig, error) {
	var raw struct {
		FlowData      string `json:"flowData"`
		ChatbotConfig string `json:"chatbotConfig"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/chatflows/%s", flowID), &raw); err != nil {
		return nil, err
	}

	cfg := &FlowConfig{}
	if raw.ChatbotConfig != "" {
		if err := parseChatbotConfig(raw.ChatbotConfig, cfg); err != nil {
			return nil, fmt.Errorf("parse chatbot config: %w", err)
		}
	}
	if raw.FlowData != "" {
		if err := parseStartNode(raw.FlowData, cfg); err != nil {
			return nil, fmt.Errorf("parse flow data: %w", err)
		}
	}
	return cfg, nil
}

func parseChatbotConfig(rawCfg string, cfg *FlowConfig) error {
	var parsed struct {
		StarterPrompts map[string]struct {
			Prompt string `json:"prompt"`
		} `json:"starterPrompts"`
		ChatFeedback struct {
			Status bool `json:"status"`
		} `json:"chatFeedback"`
		Leads           *LeadsConfig `json:"leads"`
		FollowUpPrompts struct {
			Status bool `json:"status"`
		} `json:"followUpPrompts"`
		FullFileUpload struct {
			Status                 bool   `json:"status"`
			AllowedUploadFileTypes string `json:"allowedUploadFileTypes"`
		} `json:"fullFileUpload"`
	}
	if err := json.Unmarshal([]byte(rawCfg), &parsed); err != nil {
		return err
	}

	for _, p := range parsed.StarterPrompts {
		if p.Prompt != "" {
			cfg.StarterPrompts = append(cfg.StarterPrompts, p.Prompt)
		}
	}
	cfg.ChatFeedback = parsed.ChatFeedback.Status
	cfg.Leads = parsed.Leads
	cfg.FollowUpPrompts = parsed.FollowUpPrompts.Status
	cfg.FullFileUpload = parsed.FullFileUpload.Status
	cfg.FullFileUploadAllowedTypes = parsed.FullFileUpload.AllowedUploadFileTypes
	return nil
}

func parseStartNode(flowData string, cfg *FlowConfig) error {
	var graph struct {
		Nodes []struct {
			Data struct {
				Name   string `json:"name"`
				Inputs struct {
					StartInputType  string `json:"startInputType"`
					FormTitle       string `json:"formTitle"`
					FormDescription string `json:"formDescription"`
					FormInputTypes  []struct {
						Label      string `json:"label"`
						Name       string `json:"name"`
						Type       string `json:"type"`
						AddOptions []struct {
							Option string `json:"option"`
						} `json:"addOptions"`
					} `json:"formInputTypes"`
				} `json:"inputs"`
			} `json:"data"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(flowData), &graph); err != nil {
		return err
	}

	for _, node := range graph.Nodes {
		if node.Data.Name != "startAgentflow" {
			continue
		}
		if node.Data.Inputs.StartInputType != "formInput" || len(node.Data.Inputs.FormInputTypes) == 0 {
			return nil
		}
		form := &FormConfig{
			Title:       node.Data.Inputs.FormTitle,
			Description: node.Data.Inputs.FormDescription,
		}
		for _, in := range node.Data.Inputs.FormInputTypes {
			input := FormInput{Label: in.Label, Name: in.Name, Type: in.Type}
			for _, opt := range in.AddOptions {
				input.Options = append(input.Options, opt.Option)
			}
			form.Inputs = append(form.Inputs, input)
		}
		cfg.Form = form
		return nil
	}
	return nil
}

// History returns the stored transcript of the flow, newest last, with the
// chat id the messages belong to.
func (c *Client) History(ctx context.Context, flowID string) ([]domain.Message, string, error) {
	var rows []struct {
		ID              string `json:"id"`
		ChatID          string `json:"chatId"`
		Role            string `json:"role"`
		Content         string `json:"content"`
		SourceDocuments string `json:"sourceDocuments"`
		UsedTools       string `json:"usedTools"`
		FileAnnotations string `json:"fileAnnotations"`
		AgentReasoning  string `json:"agentReasoning"`
		Artifacts       string `json:"artifacts"`
		FileUploads     string `json:"fileUploads"`
		FollowUpPrompts string `json:"followUpPrompts"`
		Feedback        *struct {
			ID      string `json:"id"`
			Rating  string `json:"rating"`
			Content string `json:"content"`
		} `json:"feedback"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/internal-chatmessage/%s", flowID), &rows); err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return nil, "", nil
	}

	chatID := rows[0].ChatID
	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		msg := domain.Message{ID: row.ID, Text: row.Content, Role: domain.RoleAssistant}
		if row.Role == "userMessage" {
			msg.Role = domain.RoleUser
		}
		// Stored rows keep structured fields JSON-encoded; a field that
		// fails to parse is dropped rather than failing the whole restore.
		unmarshalInto(row.SourceDocuments, &msg.SourceDocuments)
		unmarshalInto(row.UsedTools, &msg.UsedTools)
		unmarshalInto(row.FileAnnotations, &msg.FileAnnotations)
		unmarshalInto(row.AgentReasoning, &msg.AgentReasoning)
		unmarshalInto(row.Artifacts, &msg.Artifacts)
		unmarshalInto(row.FileUploads, &msg.FileUploads)
		if row.FollowUpPrompts != "" {
			msg.FollowUpPrompts = domain.ParseFollowUpPrompts(row.FollowUpPrompts)
		}
		if row.Feedback != nil {
			msg.Feedback = &domain.Feedback{
				ID:      row.Feedback.ID,
				Rating:  domain.FeedbackRating(row.Feedback.Rating),
				Content: row.Feedback.Content,
			}
		}
		messages = append(messages, msg)
	}
	return messages, chatID, nil
}

func unmarshalInto(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
