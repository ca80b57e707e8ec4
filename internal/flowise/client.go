// Package flowise is the HTTP client for a Flowise-style chatflow backend:
// prediction (synchronous and streaming), turn cancellation, attachment
// ingestion, and the per-session capability reads.
package flowise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
}

// APIError carries the server-supplied message of a failed call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// PredictionRequest is the single payload built per turn. Question and Form
// are mutually exclusive.
type PredictionRequest struct {
	Question   string             `json:"question,omitempty"`
	Form       map[string]string  `json:"form,omitempty"`
	ChatID     string             `json:"chatId"`
	Uploads    []Upload           `json:"uploads,omitempty"`
	LeadEmail  string             `json:"leadEmail,omitempty"`
	Action     *domain.Action     `json:"action,omitempty"`
	HumanInput *domain.HumanInput `json:"humanInput,omitempty"`
	Streaming  bool               `json:"streaming,omitempty"`
}

type Upload struct {
	Data string `json:"data"`
	Type string `json:"type"`
	Name string `json:"name"`
	MIME string `json:"mime,omitempty"`
}

// UploadsFrom converts finalized attachment drafts to their wire shape.
func UploadsFrom(attachments []domain.Attachment) []Upload {
	uploads := make([]Upload, len(attachments))
	for i, a := range attachments {
		uploads[i] = Upload{Data: a.Data, Type: a.WireType(), Name: a.Name, MIME: a.MIME}
	}
	return uploads
}

// PredictionResponse is the one-shot reply of the synchronous path. Raw
// keeps the whole body for the pretty-print fallback.
type PredictionResponse struct {
	Text                  string                  `json:"text"`
	JSON                  json.RawMessage         `json:"json"`
	ChatID                string                  `json:"chatId"`
	ChatMessageID         string                  `json:"chatMessageId"`
	Question              string                  `json:"question"`
	FollowUpPrompts       string                  `json:"followUpPrompts"`
	SourceDocuments       []domain.SourceDocument `json:"sourceDocuments"`
	UsedTools             []domain.UsedTool       `json:"usedTools"`
	FileAnnotations       []domain.FileAnnotation `json:"fileAnnotations"`
	AgentReasoning        []domain.ReasoningStep  `json:"agentReasoning"`
	AgentFlowExecutedData json.RawMessage         `json:"agentFlowExecutedData"`
	Action                *domain.Action          `json:"action"`
	Artifacts             []domain.Artifact       `json:"artifacts"`

	Raw json.RawMessage `json:"-"`
}

// DisplayText resolves the message text with the same precedence on both
// delivery paths: the structured text field, else the pretty-printed json
// field, else the pretty-printed whole payload.
func (r *PredictionResponse) DisplayText() string {
	if r.Text != "" {
		return r.Text
	}
	if len(r.JSON) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.JSON, "", "  "); err == nil {
			return "```json\n" + buf.String()
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Raw, "", "  "); err != nil {
		return string(r.Raw)
	}
	return buf.String()
}

// Predict performs the synchronous, non-streaming call for one turn.
func (c *Client) Predict(ctx context.Context, flowID string, req PredictionRequest) (*PredictionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/internal-prediction/%s", flowID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read prediction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, raw)
	}

	prediction := &PredictionResponse{Raw: raw}
	if err := json.Unmarshal(raw, prediction); err != nil {
		return nil, fmt.Errorf("parse prediction response: %w", err)
	}
	return prediction, nil
}

// Abort requests server-side cancellation of the session's active turn.
func (c *Client) Abort(ctx context.Context, flowID, chatID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/chatmessage/abort/%s/%s", flowID, chatID), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abort request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, raw)
	}
	return nil
}

// AttachmentFile is one raw file posted to an ingestion endpoint.
type AttachmentFile struct {
	Name string
	MIME string
	Data []byte
}

// CreatedAttachment is one extraction record returned by full-file
// ingestion.
type CreatedAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CreateAttachments posts one multipart batch to the full-file ingestion
// endpoint and returns the extracted content per file.
func (c *Client) CreateAttachments(ctx context.Context, flowID, chatID string, files []AttachmentFile) ([]CreatedAttachment, error) {
	body, contentType, err := multipartBody(chatID, files)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/attachments/%s/%s", flowID, chatID), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create attachments: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachments response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, raw)
	}

	var created []CreatedAttachment
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("parse attachments response: %w", err)
	}
	return created, nil
}

// UpsertVector posts one multipart batch to the vector-indexing endpoint.
// The response is an acknowledgment only.
func (c *Client) UpsertVector(ctx context.Context, flowID, chatID string, files []AttachmentFile) error {
	body, contentType, err := multipartBody(chatID, files)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/vector/internal-upsert/%s", flowID), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, raw)
	}
	return nil
}

// SubmitFeedback records a rating for one assistant message.
func (c *Client) SubmitFeedback(ctx context.Context, flowID, chatID, messageID string, rating domain.FeedbackRating, content string) (string, error) {
	payload := map[string]string{
		"chatflowid": flowID,
		"chatId":     chatID,
		"messageId":  messageID,
		"rating":     string(rating),
		"content":    content,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal feedback: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/feedback", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit feedback: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read feedback response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, raw)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse feedback response: %w", err)
	}
	return result.ID, nil
}

// SaveLead registers a captured lead against the session.
func (c *Client) SaveLead(ctx context.Context, flowID, chatID string, lead domain.Lead) error {
	payload := map[string]string{
		"chatflowid": flowID,
		"chatId":     chatID,
		"name":       lead.Name,
		"email":      lead.Email,
		"phone":      lead.Phone,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/leads", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, raw)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-request-from", "internal")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func multipartBody(chatID string, files []AttachmentFile) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("write form file: %w", err)
		}
	}
	if err := w.WriteField("chatId", chatID); err != nil {
		return nil, "", fmt.Errorf("write chat id field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func apiError(status int, raw []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return &APIError{StatusCode: status, Message: payload.Message}
	}
	return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(raw))}
}
