package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type geminiClient struct {
	http *http.Client
	cfg  Config
	u    *url.URL
}

func newGeminiClient(httpClient *http.Client, cfg Config) (Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("AURA_LLM_BASE_URL: %w", err)
	}
	return &geminiClient{http: httpClient, cfg: cfg, u: base}, nil
}

type geminiReq struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func (r geminiResp) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// geminiBody maps chat messages onto Gemini contents. The last system message
// becomes the system instruction and the conversation must end with a user
// turn.
func geminiBody(msgs []Message) (geminiReq, error) {
	var req geminiReq
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case RoleSystem:
			req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case RoleAssistant, "model":
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(req.Contents) == 0 || req.Contents[len(req.Contents)-1].Role != "user" {
		return req, fmt.Errorf("gemini: the last message must come from the user")
	}
	return req, nil
}

func (c *geminiClient) Generate(ctx context.Context, req Request) (Result, error) {
	payload, err := geminiBody(req.Messages)
	if err != nil {
		return Result{}, err
	}
	model := strings.TrimPrefix(c.cfg.Model, "models/")
	rel := &url.URL{Path: "/v1beta/models/" + url.PathEscape(model) + ":generateContent"}
	if req.OnTextDelta != nil {
		rel = &url.URL{Path: "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent", RawQuery: "alt=sse"}
	}
	reqURL := c.u.ResolveReference(rel)

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(c.cfg.GeminiKeyHeader, c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		return Result{}, fmt.Errorf("llm http %d: %s", resp.StatusCode, errorDetail(b))
	}

	if req.OnTextDelta != nil {
		return readGeminiSSE(resp.Body, req.OnTextDelta)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, err
	}
	var out geminiResp
	if err := json.Unmarshal(b, &out); err != nil {
		return Result{}, fmt.Errorf("llm decode: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return Result{}, fmt.Errorf("gemini blocked the prompt: %s", out.PromptFeedback.BlockReason)
	}
	text := strings.TrimSpace(out.text())
	if text == "" {
		return Result{}, fmt.Errorf("llm: empty candidates")
	}
	return Result{Text: text}, nil
}

// readGeminiSSE handles both cumulative and incremental chunk styles by only
// emitting text past what was already seen when a chunk repeats the prefix.
func readGeminiSSE(r io.Reader, onDelta func(string)) (Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var text strings.Builder

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var out geminiResp
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			continue
		}
		chunk := out.text()
		seen := text.String()
		delta := chunk
		if strings.HasPrefix(chunk, seen) {
			delta = chunk[len(seen):]
		}
		if delta != "" {
			onDelta(delta)
			text.WriteString(delta)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	return Result{Text: strings.TrimSpace(text.String())}, nil
}
