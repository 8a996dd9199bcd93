package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiBody_SystemAndRoles(t *testing.T) {
	req, err := geminiBody([]Message{
		{Role: RoleSystem, Content: "old"},
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "rules" {
		t.Fatalf("system=%+v", req.SystemInstruction)
	}
	roles := make([]string, 0, len(req.Contents))
	for _, c := range req.Contents {
		roles = append(roles, c.Role)
	}
	if strings.Join(roles, ",") != "user,model,user" {
		t.Fatalf("roles=%v", roles)
	}
}

func TestGeminiBody_RequiresUserLast(t *testing.T) {
	if _, err := geminiBody([]Message{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := geminiBody(nil); err == nil {
		t.Fatalf("expected error for empty conversation")
	}
}

func TestGemini_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash-latest:generateContent" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if k := r.Header.Get("x-goog-api-key"); k != "g-key" {
			t.Errorf("key=%q", k)
		}
		b, _ := io.ReadAll(r.Body)
		var body geminiReq
		_ = json.Unmarshal(b, &body)
		if len(body.Contents) != 1 {
			t.Errorf("contents=%+v", body.Contents)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world\n"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		Provider:        ProviderGemini,
		BaseURL:         srv.URL,
		APIKey:          "g-key",
		Model:           "models/" + DefaultGeminiModel,
		GeminiKeyHeader: "x-goog-api-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text=%q", res.Text)
	}
}

func TestGemini_BlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Provider: ProviderGemini, BaseURL: srv.URL, APIKey: "k", Model: "m", GeminiKeyHeader: "x-goog-api-key"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("err=%v", err)
	}
}

func TestReadGeminiSSE_CumulativeAndIncremental(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
		"",
		`data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`,
		"",
		`data: {"candidates":[{"content":{"parts":[{"text":", you"}]}}]}`,
		"",
	}, "\n")
	var deltas []string
	res, err := readGeminiSSE(strings.NewReader(sse), func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello, you" {
		t.Fatalf("text=%q", res.Text)
	}
	if strings.Join(deltas, "|") != "Hel|lo|, you" {
		t.Fatalf("deltas=%q", deltas)
	}
}
