package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"robomind/internal/models"
	"robomind/internal/service/history"
	"robomind/internal/service/speech"
	"robomind/internal/storage"
	"robomind/internal/worker"

	_ "github.com/mattn/go-sqlite3"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	// Create a conversation.
	createResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", map[string]string{
		"title": "Morning chat",
	}, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var conversation models.Conversation
	decodeJSON(t, createResp.Body.Bytes(), &conversation)
	if conversation.ID == "" {
		t.Fatalf("expected conversation id in create response")
	}
	if conversation.Title != "Morning chat" {
		t.Fatalf("unexpected title %q", conversation.Title)
	}

	// It shows up in the list.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/conversations", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listBody.Conversations))
	}

	// Send a message and read the SSE exchange back.
	firstMessage := "Hello, how are you today?"
	sendResp := postSSE(t, router,
		fmt.Sprintf("/api/conversations/%s/messages", conversation.ID),
		map[string]string{"content": firstMessage, "language": "en"},
		nil,
	)
	assertStatus(t, sendResp, http.StatusOK)
	events := parseSSE(t, sendResp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 SSE events, got %d", len(events))
	}
	if events[0].Name != "ack" {
		t.Fatalf("expected first SSE event to be ack, got %s", events[0].Name)
	}
	var ackPayload struct {
		Content string `json:"content"`
	}
	decodeJSON(t, []byte(events[0].Data), &ackPayload)
	if ackPayload.Content != firstMessage {
		t.Fatalf("ack payload mismatch, want %q got %q", firstMessage, ackPayload.Content)
	}
	if events[1].Name != "stream" {
		t.Fatalf("expected stream event, got %s", events[1].Name)
	}
	if events[2].Name != "done" {
		t.Fatalf("expected done event, got %s", events[2].Name)
	}
	var donePayload struct {
		Reply struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"reply"`
	}
	decodeJSON(t, []byte(events[2].Data), &donePayload)
	if donePayload.Reply.Role != string(models.RoleAssistant) || donePayload.Reply.Content == "" {
		t.Fatalf("done payload missing assistant reply: %s", events[2].Data)
	}

	// The exchange is persisted.
	turnsResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/turns", conversation.ID), nil, nil)
	assertStatus(t, turnsResp, http.StatusOK)
	var turnsBody struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeJSON(t, turnsResp.Body.Bytes(), &turnsBody)
	if len(turnsBody.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turnsBody.Turns))
	}

	// Clear empties the transcript but keeps the conversation.
	clearResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/clear", conversation.ID), nil, nil)
	assertStatus(t, clearResp, http.StatusNoContent)
	turnsResp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/turns", conversation.ID), nil, nil)
	assertStatus(t, turnsResp, http.StatusOK)
	decodeJSON(t, turnsResp.Body.Bytes(), &turnsBody)
	if len(turnsBody.Turns) != 0 {
		t.Fatalf("expected no turns after clear, got %d", len(turnsBody.Turns))
	}

	// Delete removes the conversation entirely.
	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/conversations/%s", conversation.ID), nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	turnsResp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/turns", conversation.ID), nil, nil)
	assertStatus(t, turnsResp, http.StatusNotFound)
}

func TestPostMessageValidation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)

	// Blank content never reaches the worker.
	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID),
		map[string]string{"content": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	// Unknown conversation id.
	resp = doJSONRequest(t, router, http.MethodPost,
		"/api/conversations/no-such-id/messages",
		map[string]string{"content": "hello"}, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestPostMessageSSEError(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)

	mw, ok := handler.workers.(*mockWorker)
	if !ok {
		t.Fatalf("expected mockWorker")
	}
	mw.submitErr = fmt.Errorf("mock failure")

	resp := postSSE(t, router,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID),
		map[string]string{"content": "hello"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected ack and error events, got %d: %#v", len(events), events)
	}
	if events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	if !strings.Contains(events[1].Data, "mock failure") {
		t.Fatalf("missing error payload: %s", events[1].Data)
	}
}

func TestPostMessageBusy(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)
	handler.workers.(*mockWorker).submitErr = worker.ErrDispatcherBusy

	resp := postSSE(t, router,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID),
		map[string]string{"content": "hello"}, nil)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[1].Name != "error" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	if !strings.Contains(events[1].Data, "busy") {
		t.Fatalf("expected busy message, got %s", events[1].Data)
	}
}

func TestPollReminders(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)
	mw := handler.workers.(*mockWorker)
	mw.dueTurns = []models.Turn{{
		ConversationID: conversationID,
		Role:           models.RoleSystem,
		Content:        "⏰ Reminder: call the plumber",
	}}

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/reminders/poll", conversationID),
		map[string]string{"now": time.Now().Format(time.RFC3339)}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Turns) != 1 || body.Turns[0].Role != models.RoleSystem {
		t.Fatalf("unexpected poll result: %#v", body.Turns)
	}

	// Malformed timestamp.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/reminders/poll", conversationID),
		map[string]string{"now": "yesterday"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	// Body is optional.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/reminders/poll", conversationID), nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestTranscribeAudio(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)
	handler.speech = &mockSpeech{transcript: "what time is it"}

	resp := postAudio(t, router,
		fmt.Sprintf("/api/conversations/%s/transcribe", conversationID),
		"clip.wav", wavBytes(), "ur")
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		FileID     int64       `json:"file_id"`
		Transcript string      `json:"transcript"`
		Reply      models.Turn `json:"reply"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.FileID == 0 {
		t.Fatalf("expected recorded file id")
	}
	if body.Transcript != "what time is it" {
		t.Fatalf("transcript = %q", body.Transcript)
	}
	if body.Reply.Content == "" {
		t.Fatalf("expected a reply turn")
	}

	mw := handler.workers.(*mockWorker)
	if mw.lastText != "what time is it" || mw.lastLang != "ur" {
		t.Fatalf("transcript not submitted as utterance: %q (%q)", mw.lastText, mw.lastLang)
	}
}

func TestTranscribeAudioNoSpeech(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	conversationID := createConversation(t, router)
	handler.speech = &mockSpeech{err: speech.ErrNoSpeech}

	resp := postAudio(t, router,
		fmt.Sprintf("/api/conversations/%s/transcribe", conversationID),
		"clip.wav", wavBytes(), "")
	assertStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestTranscribeAudioUnconfigured(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()
	handler.speech = nil

	conversationID := createConversation(t, router)
	resp := postAudio(t, router,
		fmt.Sprintf("/api/conversations/%s/transcribe", conversationID),
		"clip.wav", wavBytes(), "")
	assertStatus(t, resp, http.StatusNotImplemented)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	histSvc, err := history.NewService(db)
	if err != nil {
		t.Fatalf("history service: %v", err)
	}
	handler := NewHandler(histSvc, newMockWorker(histSvc), nil, t.TempDir(), time.Hour)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, handler
}

func createConversation(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var conversation models.Conversation
	decodeJSON(t, resp.Body.Bytes(), &conversation)
	if conversation.ID == "" {
		t.Fatalf("expected conversation id")
	}
	return conversation.ID
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func postAudio(t *testing.T, router *gin.Engine, path, fileName string, audio []byte, language string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			t.Fatalf("write language field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

// wavBytes returns a minimal RIFF/WAVE header so content sniffing sees audio.
func wavBytes() []byte {
	b := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	return append(b, make([]byte, 512)...)
}

type mockWorker struct {
	history   *history.Service
	submitErr error
	dueTurns  []models.Turn
	lastText  string
	lastLang  string
}

func newMockWorker(histSvc *history.Service) *mockWorker {
	return &mockWorker{history: histSvc}
}

func (m *mockWorker) Submit(ctx context.Context, conversationID, text, lang string, chunkFn func(string) error) (models.Turn, error) {
	if err := m.submitErr; err != nil {
		m.submitErr = nil
		return models.Turn{}, err
	}
	m.lastText = text
	m.lastLang = lang
	if chunkFn != nil {
		if err := chunkFn("mock-chunk"); err != nil {
			return models.Turn{}, err
		}
	}
	if _, err := m.history.AppendTurn(ctx, models.Turn{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        text,
		Language:       lang,
	}); err != nil {
		return models.Turn{}, err
	}
	reply := models.Turn{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        fmt.Sprintf("Mock response to %q", text),
	}
	saved, err := m.history.AppendTurn(ctx, reply)
	if err != nil {
		return models.Turn{}, err
	}
	return *saved, nil
}

func (m *mockWorker) Poll(ctx context.Context, conversationID string, now time.Time) ([]models.Turn, error) {
	return m.dueTurns, nil
}

func (m *mockWorker) Clear(ctx context.Context, conversationID string) error {
	return m.history.ClearTurns(ctx, conversationID)
}

func (m *mockWorker) Stop(string) {}

type mockSpeech struct {
	transcript string
	err        error
}

func (m *mockSpeech) Transcribe(ctx context.Context, audio []byte, fileName, langHint string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.transcript, nil
}
