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

func TestReadStream_SSEMultiLineData(t *testing.T) {
	// One SSE event split across multiple data lines (newline is legal JSON whitespace).
	sse := strings.Join([]string{
		"data: {\"choices\":",
		"data: [{\"delta\":{\"content\":\"hi\"},\"index\":0}]}",
		"",
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}",
		"",
		"data: [DONE]",
		"",
	}, "\n")

	var got strings.Builder
	res, err := readStream(strings.NewReader(sse), func(d string) { got.WriteString(d) })
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "hi there" {
		t.Fatalf("delta=%q", got.String())
	}
	if res.Text != "hi there" {
		t.Fatalf("text=%q", res.Text)
	}
}

func TestReadStream_NoTrailingBlankLine(t *testing.T) {
	sse := "event: message\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}"
	res, err := readStream(strings.NewReader(sse), func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "ok" {
		t.Fatalf("text=%q", res.Text)
	}
}

func TestReadStream_ErrorFrame(t *testing.T) {
	sse := "data: {\"error\":{\"message\":\"quota exceeded\"}}\n\n"
	_, err := readStream(strings.NewReader(sse), func(string) {})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err=%v", err)
	}
}

func TestOpenAICompat_Generate(t *testing.T) {
	var got chatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization=%q", auth)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  EXECUTE_TERMINAL_IA: ls \n"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		Provider: ProviderDeepSeek,
		BaseURL:  srv.URL,
		APIKey:   "sk-test",
		Model:    DefaultDeepSeekModel,
		ChatPath: "/v1/chat/completions",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Generate(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Content: "list files"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "EXECUTE_TERMINAL_IA: ls" {
		t.Fatalf("text=%q", res.Text)
	}
	if got.Model != DefaultDeepSeekModel || got.Stream {
		t.Fatalf("request=%+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Role != RoleUser {
		t.Fatalf("messages=%+v", got.Messages)
	}
}

func TestOpenAICompat_HTTPErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Provider: ProviderDeepSeek, BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err=%v", err)
	}
}
