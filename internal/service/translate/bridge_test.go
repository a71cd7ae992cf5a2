package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"robomind/internal/config"
)

type fakeTranslator struct {
	detectLang     string
	translated     string
	failAll        bool
	detectCalls    int64
	translateCalls int64
}

func (f *fakeTranslator) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failAll {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/detect":
			atomic.AddInt64(&f.detectCalls, 1)
			json.NewEncoder(w).Encode([]map[string]any{
				{"confidence": 0.97, "language": f.detectLang},
			})
		case "/translate":
			atomic.AddInt64(&f.translateCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"translatedText": f.translated})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestBridge(url string) *Bridge {
	return NewBridge(config.TranslatorConfig{BaseURL: url, TimeoutSeconds: 2}, "en", nil)
}

func TestToPivotSkipsServiceWhenAlreadyPivot(t *testing.T) {
	fake := &fakeTranslator{detectLang: "en"}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	text, lang := b.ToPivot(context.Background(), "hello there", "en")
	if text != "hello there" || lang != "en" {
		t.Fatalf("ToPivot = (%q, %q), want unchanged", text, lang)
	}
	if fake.detectCalls != 0 || fake.translateCalls != 0 {
		t.Fatalf("expected no service calls, got detect=%d translate=%d", fake.detectCalls, fake.translateCalls)
	}
}

func TestToPivotDetectsAndTranslates(t *testing.T) {
	fake := &fakeTranslator{detectLang: "ur", translated: "what time is it"}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	text, lang := b.ToPivot(context.Background(), "waqt kya hua hai", "auto")
	if lang != "ur" {
		t.Fatalf("detected = %q, want ur", lang)
	}
	if text != "what time is it" {
		t.Fatalf("pivot text = %q", text)
	}
}

func TestToPivotDetectionShortCircuitsOnPivot(t *testing.T) {
	fake := &fakeTranslator{detectLang: "en"}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	text, lang := b.ToPivot(context.Background(), "plain english", "auto")
	if text != "plain english" || lang != "en" {
		t.Fatalf("ToPivot = (%q, %q)", text, lang)
	}
	if fake.translateCalls != 0 {
		t.Fatalf("translate should not be called when detection returns the pivot")
	}
}

func TestToPivotFailsOpen(t *testing.T) {
	fake := &fakeTranslator{failAll: true}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	text, lang := b.ToPivot(context.Background(), "سلام", "auto")
	if text != "سلام" {
		t.Fatalf("expected original text back on failure, got %q", text)
	}
	if lang != LangUnknown {
		t.Fatalf("detected = %q, want %q", lang, LangUnknown)
	}
}

func TestFromPivotNoOpTargets(t *testing.T) {
	fake := &fakeTranslator{translated: "should never be used"}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	for _, target := range []string{"en", "", "auto", LangUnknown} {
		if got := b.FromPivot(context.Background(), "reply", target); got != "reply" {
			t.Fatalf("FromPivot(target=%q) = %q, want no-op", target, got)
		}
	}
	if fake.translateCalls != 0 {
		t.Fatalf("expected no translate calls for no-op targets")
	}
}

func TestFromPivotTranslatesBack(t *testing.T) {
	fake := &fakeTranslator{translated: "ترجمہ شدہ جواب"}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	if got := b.FromPivot(context.Background(), "translated reply", "ur"); got != "ترجمہ شدہ جواب" {
		t.Fatalf("FromPivot = %q", got)
	}
}

func TestFromPivotFailsOpen(t *testing.T) {
	fake := &fakeTranslator{failAll: true}
	srv := fake.server(t)
	defer srv.Close()

	b := newTestBridge(srv.URL)
	if got := b.FromPivot(context.Background(), "english reply", "ur"); got != "english reply" {
		t.Fatalf("expected pivot text back on failure, got %q", got)
	}
}

func TestBridgeUnreachableServiceFailsOpen(t *testing.T) {
	// closed port: transport-level failure rather than HTTP error
	b := newTestBridge("http://127.0.0.1:1")
	text, lang := b.ToPivot(context.Background(), "hello", "auto")
	if text != "hello" || lang != LangUnknown {
		t.Fatalf("ToPivot = (%q, %q), want fail-open", text, lang)
	}
}
