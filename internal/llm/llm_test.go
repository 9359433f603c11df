package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/hotnote/internal/config"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"profile\": \"job\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["profile"] != "job" {
		t.Errorf("expected profile='job', got %v", result["profile"])
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	for _, text := range []string{"not json at all", "", "  \n ", "finance", "```\n```"} {
		if result := ParseJSONResponse(text); result != nil {
			t.Errorf("expected nil for %q, got %v", text, result)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"plain":                   "plain",
		"```\njob\n```":           "job",
		"```text\n finance \n```": "finance",
		"```json\n{}":             "{}",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "qwen2.5:7b"}}})
		case "/api/chat":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["model"] != "qwen2.5:7b" {
				t.Errorf("unexpected model %v", body["model"])
			}
			json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "hello"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	if !p.IsConfigured() {
		t.Fatal("expected ollama to be configured")
	}
	out, err := p.Generate(context.Background(), "hi", 16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected 'hello', got %q", out)
	}
}

func TestOllamaMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "llama3:8b"}}})
	}))
	defer srv.Close()

	if NewOllamaProvider("qwen2.5:7b", srv.URL).IsConfigured() {
		t.Error("expected missing model to be reported as not configured")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["model"] != "deepseek-chat" {
			t.Errorf("expected provider prefix stripped, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"deepseek-chat",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	p := NewOpenAIProvider("openai/deepseek-chat", srv.URL, "TEST_OPENAI_KEY")
	if !p.IsConfigured() {
		t.Fatal("expected provider to be configured")
	}
	out, err := p.Generate(context.Background(), "hi", 32)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" {
		t.Errorf("expected 'ok', got %q", out)
	}
}

func TestOpenAINotConfigured(t *testing.T) {
	p := NewOpenAIProvider("gpt-4o-mini", "", "HOTNOTE_TEST_UNSET_KEY")
	if p.IsConfigured() {
		t.Fatal("expected provider without key to be unconfigured")
	}
	if _, err := p.Generate(context.Background(), "hi", 8); err == nil {
		t.Error("expected error without key")
	}
}

func TestGeminiWithoutKey(t *testing.T) {
	p, err := NewGeminiProvider(context.Background(), "gemini-1.5-flash", "HOTNOTE_TEST_UNSET_KEY")
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	if p.IsConfigured() {
		t.Error("expected gemini without key to be unconfigured")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCreateProviderNone(t *testing.T) {
	cfg := config.LLM{Provider: "openai", Model: "gpt-4o-mini", APIKeyEnv: "HOTNOTE_TEST_UNSET_KEY"}
	_, err := CreateProvider(context.Background(), cfg, zaptest.NewLogger(t))
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

type stubProvider struct {
	out string
	err error
}

func (s stubProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return s.out, s.err
}

func (s stubProvider) IsConfigured() bool { return true }

func TestWithLoggingPassesThrough(t *testing.T) {
	logged := WithLogging(stubProvider{out: "text"}, "test", zaptest.NewLogger(t))
	out, err := logged.Generate(context.Background(), "prompt", 8)
	if err != nil || out != "text" {
		t.Errorf("unexpected result %q, %v", out, err)
	}

	boom := errors.New("boom")
	logged = WithLogging(stubProvider{err: boom}, "test", nil)
	if _, err := logged.Generate(context.Background(), "prompt", 8); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error to be returned, got %v", err)
	}
	if !logged.IsConfigured() {
		t.Error("expected IsConfigured to be promoted")
	}
}
