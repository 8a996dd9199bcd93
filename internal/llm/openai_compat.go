package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type openAICompatClient struct {
	http *http.Client
	cfg  Config
	url  string
}

func newOpenAICompatClient(httpClient *http.Client, cfg Config) (Client, error) {
	u, err := cfg.ChatURL()
	if err != nil {
		return nil, fmt.Errorf("AURA_LLM_BASE_URL: %w", err)
	}
	return &openAICompatClient{http: httpClient, cfg: cfg, url: u}, nil
}

type chatReq struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func (c *openAICompatClient) Generate(ctx context.Context, req Request) (Result, error) {
	msgs := make([]chatMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = RoleUser
		}
		msgs = append(msgs, chatMsg{Role: role, Content: m.Content})
	}
	body, err := json.Marshal(chatReq{Model: c.cfg.Model, Messages: msgs, Stream: req.OnTextDelta != nil})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		return Result{}, fmt.Errorf("llm http %d %s: %s", resp.StatusCode, c.url, errorDetail(b))
	}

	if req.OnTextDelta != nil {
		return readStream(resp.Body, req.OnTextDelta)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, err
	}
	var out chatResp
	if err := json.Unmarshal(b, &out); err != nil {
		return Result{}, fmt.Errorf("llm decode: %w", err)
	}
	if out.Error != nil && strings.TrimSpace(out.Error.Message) != "" {
		return Result{}, fmt.Errorf("llm error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: empty choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return Result{}, fmt.Errorf("llm: reply has no content")
	}
	return Result{Text: text}, nil
}

// errorDetail pulls error.message out of a JSON error body, falling back to
// the raw text.
func errorDetail(b []byte) string {
	var body struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(b))
}

// readStream parses an SSE body. Data lines are collected until a blank line
// and then decoded as one event; providers differ in whether a JSON chunk
// spans one or several data lines.
func readStream(r io.Reader, onDelta func(string)) (Result, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var text strings.Builder
	var dataLines []string

	flush := func() (bool, error) {
		if len(dataLines) == 0 {
			return false, nil
		}
		data := strings.TrimSpace(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		if data == "" {
			return false, nil
		}
		if data == "[DONE]" {
			return true, nil
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// keepalive garbage
			return false, nil
		}
		if chunk.Error != nil && strings.TrimSpace(chunk.Error.Message) != "" {
			return false, fmt.Errorf("llm error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if d := choice.Delta.Content; d != "" {
				onDelta(d)
				text.WriteString(d)
			}
		}
		return false, nil
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return Result{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.TrimSpace(line) == "":
			done, ferr := flush()
			if ferr != nil {
				return Result{}, ferr
			}
			if done {
				return Result{Text: strings.TrimSpace(text.String())}, nil
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if err == io.EOF {
			break
		}
	}
	if _, err := flush(); err != nil {
		return Result{}, err
	}
	return Result{Text: strings.TrimSpace(text.String())}, nil
}
