package console

import "strings"

// History holds submitted commands. Consecutive duplicates are stored once.
// The cursor ranges over [0, Len()]; Len() stands for the fresh line.
type History struct {
	entries []string
	cursor  int
	max     int
}

// NewHistory keeps at most limit entries; zero means unbounded.
func NewHistory(limit int) *History {
	return &History{max: limit}
}

// Add records cmd and moves the cursor back to the fresh line.
func (h *History) Add(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd != "" && (len(h.entries) == 0 || h.entries[len(h.entries)-1] != cmd) {
		h.entries = append(h.entries, cmd)
		if h.max > 0 && len(h.entries) > h.max {
			h.entries = append([]string(nil), h.entries[len(h.entries)-h.max:]...)
		}
	}
	h.cursor = len(h.entries)
}

func (h *History) Len() int    { return len(h.entries) }
func (h *History) Cursor() int { return h.cursor }

func (h *History) Entries() []string { return append([]string(nil), h.entries...) }

// Prev steps to the previous entry, stopping at the oldest one.
func (h *History) Prev() (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	if h.cursor > 0 {
		h.cursor--
	}
	return h.entries[h.cursor], true
}

// Next steps to the next entry. Past the newest entry the cursor returns to
// the fresh line and Next returns "".
func (h *History) Next() string {
	if h.cursor < len(h.entries)-1 {
		h.cursor++
		return h.entries[h.cursor]
	}
	h.cursor = len(h.entries)
	return ""
}
