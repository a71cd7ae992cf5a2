package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"robomind/internal/dispatch"
	"robomind/internal/models"
	"robomind/internal/service/history"
	"robomind/internal/service/speech"
	"robomind/internal/worker"
)

// WorkerManager serializes all conversational work per conversation.
type WorkerManager interface {
	Submit(ctx context.Context, conversationID, text, lang string, chunkFn func(string) error) (models.Turn, error)
	Poll(ctx context.Context, conversationID string, now time.Time) ([]models.Turn, error)
	Clear(ctx context.Context, conversationID string) error
	Stop(conversationID string)
}

// SpeechRecognizer turns an uploaded voice clip into text.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audio []byte, fileName, langHint string) (string, error)
}

// Handler wires HTTP routes to the conversation history store and the
// per-conversation workers.
type Handler struct {
	history  *history.Service
	workers  WorkerManager
	speech   SpeechRecognizer
	fileBase string
	fileTTL  time.Duration
}

// NewHandler constructs a Handler instance. speech may be nil when no
// recognizer endpoint is configured.
func NewHandler(historySvc *history.Service, workers WorkerManager, speech SpeechRecognizer, fileBase string, fileTTL time.Duration) *Handler {
	return &Handler{
		history:  historySvc,
		workers:  workers,
		speech:   speech,
		fileBase: fileBase,
		fileTTL:  fileTTL,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/conversations", h.createConversation)
	api.GET("/conversations", h.listConversations)
	conv := api.Group("/conversations/:id")
	conv.GET("/turns", h.getConversationTurns)
	conv.POST("/messages", h.postMessage)
	conv.POST("/clear", h.clearConversation)
	conv.DELETE("", h.deleteConversation)
	conv.POST("/reminders/poll", h.pollReminders)
	conv.POST("/transcribe", h.transcribeAudio)
}

func (h *Handler) createConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	conversation, err := h.history.CreateConversation(c.Request.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.history.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(list) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"conversations": make([]models.Conversation, 0),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": list,
	})
}

func (h *Handler) getConversationTurns(c *gin.Context) {
	id := c.Param("id")
	conversation, turns, err := h.history.GetConversationWithTurns(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conversation,
		"turns":        turns,
	})
}

func (h *Handler) clearConversation(c *gin.Context) {
	id := c.Param("id")
	if _, _, err := h.history.GetConversationWithTurns(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.workers.Clear(c.Request.Context(), id); err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	h.workers.Stop(id)
	if err := h.history.DeleteConversation(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) pollReminders(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Now string `json:"now"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	now := time.Now()
	if req.Now != "" {
		parsed, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid now timestamp"})
			return
		}
		now = parsed
	}
	turns, err := h.workers.Poll(c.Request.Context(), id, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(turns) == 0 {
		turns = make([]models.Turn, 0)
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

// User input interface
type messageRequest struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

func (h *Handler) postMessage(c *gin.Context) {
	id := c.Param("id")
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if _, _, err := h.history.GetConversationWithTurns(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("ack", gin.H{
		"conversation_id": id,
		"content":         req.Content,
		"language":        req.Language,
	}); err != nil {
		return
	}
	reply, err := h.workers.Submit(streamCtx, id, req.Content, req.Language, func(chunk string) error {
		return sendEvent("stream", gin.H{"content": chunk})
	})
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, worker.ErrDispatcherBusy):
			msg = "server is busy, please retry"
		case errors.Is(err, worker.ErrConversationClosed):
			msg = "conversation is shutting down, please retry"
		case errors.Is(err, dispatch.ErrEmptyUtterance):
			msg = "content is required"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}
	_ = sendEvent("done", gin.H{
		"reply": gin.H{
			"id":              reply.ID,
			"conversation_id": reply.ConversationID,
			"role":            reply.Role,
			"content":         reply.Content,
			"language":        reply.Language,
			"created_at":      reply.CreatedAt,
		},
	})
}

const maxAudioBytes = 10 << 20 // 10 MB

var allowedAudioTypes = []string{
	"audio/",
	"video/webm",
	"application/ogg",
	"application/octet-stream",
}

func isAllowedAudioType(ct string) bool {
	for _, allowed := range allowedAudioTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) transcribeAudio(c *gin.Context) {
	if h.speech == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "speech recognition is not configured"})
		return
	}
	id := c.Param("id")
	if _, _, err := h.history.GetConversationWithTurns(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := c.Request.ParseMultipartForm(maxAudioBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	langHint := c.PostForm("language")
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxAudioBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedAudioType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	filename := filepath.Base(file.Filename)
	destDir, destPath, finalName := h.getUniqueFilePath(id, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	record, err := h.history.CreateTempAudio(c.Request.Context(), models.TempAudio{
		ConversationID: id,
		FileName:       finalName,
		StoredPath:     destPath,
		MimeType:       contentType,
		Size:           file.Size,
		LanguageHint:   langHint,
		ExpiresAt:      time.Now().Add(h.fileTTL),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}
	audio, err := os.ReadFile(destPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return
	}
	transcript, err := h.speech.Transcribe(c.Request.Context(), audio, finalName, langHint)
	if err != nil {
		if errors.Is(err, speech.ErrNoSpeech) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not understand the audio, please try again"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "speech recognition failed, please try again"})
		return
	}
	reply, err := h.workers.Submit(c.Request.Context(), id, transcript, langHint, nil)
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_id":    record.ID,
		"transcript": transcript,
		"reply":      reply,
	})
}

func (h *Handler) getFilePath(conversationID, filename string) (string, string) {
	destDir := filepath.Join(h.fileBase, conversationID)
	destPath := filepath.Join(destDir, filename)
	return destDir, destPath
}

func (h *Handler) getUniqueFilePath(conversationID, filename string) (string, string, string) {
	destDir, destPath := h.getFilePath(conversationID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := h.getFilePath(conversationID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	stamped := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, stamped), stamped
}
