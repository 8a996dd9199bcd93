package console

import (
	"bytes"
	"fmt"
	"strings"
)

// Style tags transcript text for rendering.
type Style int

const (
	StylePlain Style = iota
	StylePrompt
	StyleCommand
	StyleError
)

func (s Style) String() string {
	switch s {
	case StylePlain:
		return "plain"
	case StylePrompt:
		return "prompt"
	case StyleCommand:
		return "command"
	case StyleError:
		return "error"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// Surface is the text region a console renders into. Offsets are byte
// offsets into the full transcript and stay valid when old text is dropped.
type Surface interface {
	Append(text string, style Style)
	Len() int
	Cursor() int
	SetCursor(pos int)
	Insert(pos int, text string)
	Delete(from, to int)
	Slice(from, to int) string
	// Scroll moves the view by lines; negative scrolls towards older text.
	Scroll(lines int)
}

// Span is a styled range of the transcript.
type Span struct {
	Start, End int
	Style      Style
}

// Buffer is an in-memory Surface with bounded scrollback. When the kept text
// exceeds maxBytes, whole lines are dropped from the front.
type Buffer struct {
	text     []byte
	spans    []Span
	cursor   int
	maxBytes int
	scroll   int

	droppedBytes int
	droppedLines int
}

// NewBuffer returns a Buffer keeping at most maxBytes of text; zero keeps
// everything.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{maxBytes: maxBytes}
}

func (b *Buffer) Len() int    { return b.droppedBytes + len(b.text) }
func (b *Buffer) Cursor() int { return b.cursor }

// Start is the oldest offset still held.
func (b *Buffer) Start() int { return b.droppedBytes }

func (b *Buffer) clamp(pos int) int {
	if pos < b.droppedBytes {
		return b.droppedBytes
	}
	if pos > b.Len() {
		return b.Len()
	}
	return pos
}

func (b *Buffer) SetCursor(pos int) { b.cursor = b.clamp(pos) }

func (b *Buffer) Append(text string, style Style) {
	if text == "" {
		return
	}
	start := b.Len()
	b.text = append(b.text, text...)
	if style != StylePlain {
		b.addSpan(Span{Start: start, End: b.Len(), Style: style})
	}
	b.scroll = 0
	b.trim()
}

func (b *Buffer) addSpan(s Span) {
	if n := len(b.spans); n > 0 {
		last := &b.spans[n-1]
		if last.Style == s.Style && last.End == s.Start {
			last.End = s.End
			return
		}
	}
	b.spans = append(b.spans, s)
}

func (b *Buffer) Insert(pos int, text string) {
	if text == "" {
		return
	}
	pos = b.clamp(pos)
	i := pos - b.droppedBytes
	b.text = append(b.text[:i], append([]byte(text), b.text[i:]...)...)
	n := len(text)
	for k := range b.spans {
		if b.spans[k].Start >= pos {
			b.spans[k].Start += n
		}
		if b.spans[k].End > pos {
			b.spans[k].End += n
		}
	}
	if b.cursor >= pos {
		b.cursor += n
	}
	b.trim()
}

func (b *Buffer) Delete(from, to int) {
	from, to = b.clamp(from), b.clamp(to)
	if from >= to {
		return
	}
	b.text = append(b.text[:from-b.droppedBytes], b.text[to-b.droppedBytes:]...)
	n := to - from
	shift := func(p int) int {
		switch {
		case p >= to:
			return p - n
		case p > from:
			return from
		default:
			return p
		}
	}
	kept := b.spans[:0]
	for _, s := range b.spans {
		s.Start, s.End = shift(s.Start), shift(s.End)
		if s.End > s.Start {
			kept = append(kept, s)
		}
	}
	b.spans = kept
	b.cursor = shift(b.cursor)
}

func (b *Buffer) Slice(from, to int) string {
	from, to = b.clamp(from), b.clamp(to)
	if from >= to {
		return ""
	}
	return string(b.text[from-b.droppedBytes : to-b.droppedBytes])
}

func (b *Buffer) Scroll(lines int) {
	b.scroll -= lines
	if b.scroll < 0 {
		b.scroll = 0
	}
	if limit := b.lineCount(); b.scroll > limit {
		b.scroll = limit
	}
}

// ScrollBack is how many lines the view sits above the bottom.
func (b *Buffer) ScrollBack() int { return b.scroll }

func (b *Buffer) lineCount() int { return bytes.Count(b.text, []byte{'\n'}) }

func (b *Buffer) trim() {
	if b.maxBytes <= 0 || len(b.text) <= b.maxBytes {
		return
	}
	need := len(b.text) - b.maxBytes
	idx := bytes.IndexByte(b.text[need:], '\n')
	if idx < 0 {
		return
	}
	cut := need + idx + 1
	b.droppedLines += bytes.Count(b.text[:cut], []byte{'\n'})
	b.droppedBytes += cut
	b.text = append([]byte(nil), b.text[cut:]...)

	kept := b.spans[:0]
	for _, s := range b.spans {
		if s.End <= b.droppedBytes {
			continue
		}
		if s.Start < b.droppedBytes {
			s.Start = b.droppedBytes
		}
		kept = append(kept, s)
	}
	b.spans = kept
	b.cursor = b.clamp(b.cursor)
}

// Spans returns the styled ranges that are still held.
func (b *Buffer) Spans() []Span { return append([]Span(nil), b.spans...) }

// Text returns the held transcript.
func (b *Buffer) Text() string { return string(b.text) }

// Content returns the held transcript, prefixed by a marker when older text
// was dropped.
func (b *Buffer) Content() string {
	if b.droppedLines == 0 {
		return string(b.text)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[compact] dropped %d lines (%d bytes)\n", b.droppedLines, b.droppedBytes)
	sb.Write(b.text)
	return sb.String()
}

// Stats reports kept and dropped sizes.
func (b *Buffer) Stats() (keptBytes, droppedLines, droppedBytes int) {
	return len(b.text), b.droppedLines, b.droppedBytes
}

// Render returns the held transcript with each styled span passed through
// style. Unstyled text is returned as is.
func (b *Buffer) Render(style func(Style, string) string) string {
	if style == nil || len(b.spans) == 0 {
		return string(b.text)
	}
	var sb strings.Builder
	pos := b.droppedBytes
	for _, s := range b.spans {
		if s.Start > pos {
			sb.WriteString(b.Slice(pos, s.Start))
		}
		sb.WriteString(style(s.Style, b.Slice(s.Start, s.End)))
		pos = s.End
	}
	sb.WriteString(b.Slice(pos, b.Len()))
	return sb.String()
}
