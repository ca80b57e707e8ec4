package flowise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/flowchat/internal/domain"
)

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/internal-prediction/flow-1", r.URL.Path)
		assert.Equal(t, "internal", r.Header.Get("x-request-from"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req PredictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hello", req.Question)
		assert.Equal(t, "chat-1", req.ChatID)
		assert.False(t, req.Streaming)

		fmt.Fprint(w, `{"text":"Hi!","chatId":"chat-2","chatMessageId":"m1"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	resp, err := c.Predict(context.Background(), "flow-1", PredictionRequest{Question: "Hello", ChatID: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Text)
	assert.Equal(t, "chat-2", resp.ChatID)
	assert.Equal(t, "m1", resp.ChatMessageID)
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"flow not deployed"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Predict(context.Background(), "flow-1", PredictionRequest{Question: "Hello"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "flow not deployed", apiErr.Message)
}

func TestDisplayTextPrecedence(t *testing.T) {
	r := &PredictionResponse{Text: "plain", JSON: json.RawMessage(`{"a":1}`), Raw: json.RawMessage(`{"x":2}`)}
	assert.Equal(t, "plain", r.DisplayText())

	r = &PredictionResponse{JSON: json.RawMessage(`{"a":1}`), Raw: json.RawMessage(`{"x":2}`)}
	assert.Equal(t, "```json\n{\n  \"a\": 1\n}", r.DisplayText())

	r = &PredictionResponse{Raw: json.RawMessage(`{"x":2}`)}
	assert.Equal(t, "{\n  \"x\": 2\n}", r.DisplayText())
}

func TestStreamPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PredictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Streaming)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, payload := range []string{
			`{"event":"start","data":""}`,
			`{"event":"token","data":"Hi"}`,
			`{"event":"token","data":" there"}`,
			`{"event":"sourceDocuments","data":[{"pageContent":"chunk"}]}`,
			`this is not json`,
			`{"event":"metadata","data":{"chatId":"chat-9"}}`,
			`{"event":"end","data":"[DONE]"}`,
		} {
			fmt.Fprintf(w, "data:%s\n\n", payload)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	events, err := c.StreamPredict(context.Background(), "flow-1", PredictionRequest{Question: "Hello", ChatID: "chat-1"})
	require.NoError(t, err)

	var kinds []domain.EventKind
	text := ""
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == domain.EventToken {
			text += ev.Token
		}
	}

	// The malformed line is skipped, the stream survives to its end.
	assert.Equal(t, []domain.EventKind{
		domain.EventStart, domain.EventToken, domain.EventToken,
		domain.EventSourceDocuments, domain.EventMetadata, domain.EventEnd,
	}, kinds)
	assert.Equal(t, "Hi there", text)
}

func TestStreamPredictClosesOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data:{\"event\":\"start\",\"data\":\"\"}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, "")
	events, err := c.StreamPredict(ctx, "flow-1", PredictionRequest{Question: "Hello"})
	require.NoError(t, err)

	<-events
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel must close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel did not close after cancellation")
	}
}

func TestStreamPredictRejectsNonStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"sync reply"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.StreamPredict(context.Background(), "flow-1", PredictionRequest{})
	require.Error(t, err)
}

func TestCreateAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/attachments/flow-1/chat-1", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "chat-1", r.FormValue("chatId"))
		require.Len(t, r.MultipartForm.File["files"], 2)

		fmt.Fprint(w, `[{"name":"a.pdf","content":"extracted text"}]`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	created, err := c.CreateAttachments(context.Background(), "flow-1", "chat-1", flowiseFilePair())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "a.pdf", created[0].Name)
	assert.Equal(t, "extracted text", created[0].Content)
}

func flowiseFilePair() []AttachmentFile {
	return []AttachmentFile{
		{Name: "a.pdf", MIME: "application/pdf", Data: []byte("pdf bytes")},
		{Name: "b.txt", MIME: "text/plain", Data: []byte("text bytes")},
	}
}

func TestAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/chatmessage/abort/flow-1/chat-1", r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.Abort(context.Background(), "flow-1", "chat-1"))
}

func TestUploadConstraints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chatflows-uploads/flow-1", r.URL.Path)
		fmt.Fprint(w, `{
			"isImageUploadAllowed": true,
			"imgUploadSizeAndTypes": [{"fileTypes":["image/png","image/jpeg"],"maxUploadSize":5}],
			"isRAGFileUploadAllowed": true,
			"fileUploadSizeAndTypes": [{"fileTypes":[".pdf"],"maxUploadSize":10}],
			"isSpeechToTextEnabled": false
		}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	constraints, err := c.UploadConstraints(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.True(t, constraints.IsImageUploadAllowed)
	require.Len(t, constraints.ImgUploadSizeAndTypes, 1)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, constraints.ImgUploadSizeAndTypes[0].FileTypes)
}

func TestFlowConfig(t *testing.T) {
	chatbotConfig := `{
		"starterPrompts": {"0": {"prompt": "What can you do?"}, "1": {"prompt": ""}},
		"chatFeedback": {"status": true},
		"leads": {"status": true, "email": true, "successMessage": "Thanks!"},
		"followUpPrompts": {"status": true},
		"fullFileUpload": {"status": true, "allowedUploadFileTypes": ".pdf,.txt"}
	}`
	flowData := `{"nodes":[{"data":{"name":"startAgentflow","inputs":{
		"startInputType":"formInput","formTitle":"Intake",
		"formInputTypes":[{"label":"Topic","name":"topic","type":"options","addOptions":[{"option":"billing"},{"option":"support"}]}]
	}}}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"flowData": flowData, "chatbotConfig": chatbotConfig}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	cfg, err := c.FlowConfig(context.Background(), "flow-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"What can you do?"}, cfg.StarterPrompts)
	assert.True(t, cfg.ChatFeedback)
	require.NotNil(t, cfg.Leads)
	assert.True(t, cfg.Leads.Status)
	assert.Equal(t, "Thanks!", cfg.Leads.SuccessMessage)
	assert.True(t, cfg.FollowUpPrompts)
	assert.True(t, cfg.FullFileUpload)
	assert.Equal(t, ".pdf,.txt", cfg.FullFileUploadAllowedTypes)
	require.NotNil(t, cfg.Form)
	assert.Equal(t, "Intake", cfg.Form.Title)
	require.Len(t, cfg.Form.Inputs, 1)
	assert.Equal(t, []string{"billing", "support"}, cfg.Form.Inputs[0].Options)
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/internal-chatmessage/flow-1", r.URL.Path)
		fmt.Fprint(w, `[
			{"id":"m1","chatId":"chat-7","role":"userMessage","content":"Hello"},
			{"id":"m2","chatId":"chat-7","role":"apiMessage","content":"Hi!",
			 "sourceDocuments":"[{\"pageContent\":\"chunk\"}]",
			 "feedback":{"id":"f1","rating":"THUMBS_UP","content":""}}
		]`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	messages, chatID, err := c.History(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-7", chatID)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].SourceDocuments, 1)
	require.NotNil(t, messages[1].Feedback)
	assert.Equal(t, domain.FeedbackThumbsUp, messages[1].Feedback.Rating)
}
