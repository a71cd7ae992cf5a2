package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"robomind/internal/cache"
	"robomind/internal/config"
)

// ErrTranslation marks a failed call to the translation service. The bridge
// itself never surfaces it to chat flow: translation fails open to the
// original text so an outage degrades to pivot-language operation instead of
// breaking the conversation.
var ErrTranslation = errors.New("translation service error")

// LangUnknown is reported when detection failed.
const LangUnknown = "unknown"

const defaultDetectCacheTTL = 6 * time.Hour

// Bridge normalizes user text to the pivot language before generative calls
// and restores the user's language on the way back. It talks to a
// LibreTranslate-compatible HTTP service.
type Bridge struct {
	client   *resty.Client
	apiKey   string
	pivot    string
	cache    *cache.Client
	cacheTTL time.Duration
}

// NewBridge builds the bridge from config. The cache client is optional;
// without it every detection hits the service.
func NewBridge(cfg config.TranslatorConfig, pivot string, cacheClient *cache.Client) *Bridge {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := time.Duration(cfg.CacheTTL) * time.Minute
	if ttl <= 0 {
		ttl = defaultDetectCacheTTL
	}
	if pivot == "" {
		pivot = "en"
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Bridge{
		client:   client,
		apiKey:   cfg.APIKey,
		pivot:    pivot,
		cache:    cacheClient,
		cacheTTL: ttl,
	}
}

// Pivot reports the pivot language code.
func (b *Bridge) Pivot() string {
	return b.pivot
}

// ToPivot translates text into the pivot language. When the declared
// language already is the pivot, both the detection and translation calls
// are skipped and the text is returned unchanged. On any service failure the
// original text comes back with detected = "unknown".
func (b *Bridge) ToPivot(ctx context.Context, text, declared string) (string, string) {
	if declared == b.pivot {
		return text, b.pivot
	}

	detected := declared
	if detected == "" || detected == "auto" {
		var err error
		detected, err = b.detectLanguage(ctx, text)
		if err != nil {
			log.Printf("language detection failed, passing text through: %v", err)
			return text, LangUnknown
		}
	}
	if detected == b.pivot {
		return text, detected
	}

	translated, err := b.translate(ctx, text, detected, b.pivot)
	if err != nil {
		log.Printf("translate to pivot failed, passing text through: %v", err)
		return text, detected
	}
	return translated, detected
}

// FromPivot translates pivot-language text back into the target language.
// No-op when the target is the pivot, empty, or was never detected.
func (b *Bridge) FromPivot(ctx context.Context, text, target string) string {
	if target == "" || target == "auto" || target == LangUnknown || target == b.pivot {
		return text
	}
	translated, err := b.translate(ctx, text, b.pivot, target)
	if err != nil {
		log.Printf("translate from pivot failed, replying in %s: %v", b.pivot, err)
		return text
	}
	return translated
}

func (b *Bridge) detectLanguage(ctx context.Context, text string) (string, error) {
	if b.cache != nil {
		if lang, err := b.cache.DetectedLanguage(ctx, text); err == nil && lang != "" {
			return lang, nil
		}
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"q": text, "api_key": b.apiKey}).
		Post("/detect")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: detect status %d", ErrTranslation, resp.StatusCode())
	}

	var detections []struct {
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
	}
	if err := json.Unmarshal(resp.Body(), &detections); err != nil {
		return "", fmt.Errorf("%w: decode detect response: %v", ErrTranslation, err)
	}
	if len(detections) == 0 || detections[0].Language == "" {
		return "", fmt.Errorf("%w: empty detect response", ErrTranslation)
	}
	lang := detections[0].Language

	if b.cache != nil {
		if err := b.cache.StoreDetectedLanguage(ctx, text, lang, b.cacheTTL); err != nil {
			log.Printf("cache detection result failed: %v", err)
		}
	}
	return lang, nil
}

func (b *Bridge) translate(ctx context.Context, text, source, target string) (string, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"q":       text,
			"source":  source,
			"target":  target,
			"format":  "text",
			"api_key": b.apiKey,
		}).
		Post("/translate")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: translate status %d", ErrTranslation, resp.StatusCode())
	}

	var body struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("%w: decode translate response: %v", ErrTranslation, err)
	}
	if body.TranslatedText == "" {
		return "", fmt.Errorf("%w: empty translation", ErrTranslation)
	}
	return body.TranslatedText, nil
}
