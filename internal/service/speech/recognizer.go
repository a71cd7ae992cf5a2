package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"robomind/internal/config"
)

// ErrRecognition marks a failed transcription call.
var ErrRecognition = errors.New("speech recognition error")

// ErrNoSpeech is returned when the service produced an empty transcript.
var ErrNoSpeech = fmt.Errorf("%w: no speech detected", ErrRecognition)

// Recognizer transcribes uploaded voice clips through a hosted
// whisper-compatible endpoint.
type Recognizer struct {
	client *resty.Client
	apiKey string
	model  string
}

func NewRecognizer(cfg config.RecognizerConfig) *Recognizer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	return &Recognizer{client: client, apiKey: cfg.APIKey, model: model}
}

// Transcribe sends the audio bytes for transcription. The language hint is
// optional; empty means autodetect.
func (r *Recognizer) Transcribe(ctx context.Context, audio []byte, fileName, langHint string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrRecognition)
	}
	if fileName == "" {
		fileName = "audio.wav"
	}

	req := r.client.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(audio)).
		SetFormData(map[string]string{"model": r.model})
	if r.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+r.apiKey)
	}
	if langHint != "" && langHint != "auto" {
		req.SetFormData(map[string]string{"language": langHint})
	}

	resp, err := req.Post("/v1/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRecognition, resp.StatusCode(), resp.String())
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRecognition, err)
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
