package shell

import (
	"bytes"
	"strings"
)

const (
	// InteractiveSentinel terminates every round of the interactive console.
	InteractiveSentinel = "###AURA_IDE_CMD_END###"
	// AutomatedSentinel terminates every round of the automated console.
	AutomatedSentinel = "###AURA_IDE_AI_CMD_END###"
)

// Frame turns a caller command into the line written to the shell: the
// command, then pwd, then an echo of the sentinel.
func Frame(command, sentinel string) string {
	cmd := strings.TrimSpace(command)
	for strings.HasSuffix(cmd, ";") && !strings.HasSuffix(cmd, ";;") {
		cmd = strings.TrimSpace(strings.TrimSuffix(cmd, ";"))
	}
	if cmd == "" {
		return BootstrapFrame(sentinel)
	}
	// "cmd &; pwd" is a syntax error; a backgrounded job already ends the list.
	if strings.HasSuffix(cmd, "&") && !strings.HasSuffix(cmd, "&&") {
		return cmd + " pwd; echo '" + sentinel + "'\n"
	}
	return cmd + "; pwd; echo '" + sentinel + "'\n"
}

// BootstrapFrame is the synthetic first exchange that learns the initial
// working directory.
func BootstrapFrame(sentinel string) string {
	return "pwd; echo '" + sentinel + "'\n"
}

// Round is one resolved request/response exchange.
type Round struct {
	// Output is the visible output of the command, without the pwd line.
	Output string
	// Dir is the working directory reported by the round when DirKnown is set.
	Dir      string
	DirKnown bool
	// Bootstrap marks the synthetic first round.
	Bootstrap bool
	// SingleLineDir is set when a lone line was classified as a directory.
	// A command whose only output starts with "/" lands here too.
	SingleLineDir bool
}

// Demux splits a raw output stream into rounds using an in-band sentinel. It
// buffers raw bytes so that a sentinel or a UTF-8 sequence split across reads
// is reassembled before anything is decoded.
//
// A sentinel counts only at the start of a line. Lines that merely contain it,
// such as the shell's xtrace of the framing echo, are dropped from the round.
//
// Demux is not safe for concurrent use.
type Demux struct {
	sentinel  []byte
	buf       []byte
	bootstrap bool
}

func NewDemux(sentinel string) *Demux {
	return &Demux{sentinel: []byte(sentinel)}
}

// ExpectBootstrap makes the next resolved round a bootstrap round.
func (d *Demux) ExpectBootstrap() { d.bootstrap = true }

// Buffered returns the number of bytes waiting for a sentinel.
func (d *Demux) Buffered() int { return len(d.buf) }

// Pending returns a decoded copy of the bytes waiting for a sentinel.
func (d *Demux) Pending() string { return normalize(d.buf) }

// Reset drops buffered bytes and the bootstrap expectation.
func (d *Demux) Reset() {
	d.buf = nil
	d.bootstrap = false
}

// Feed appends a chunk and returns every round it completes, in order. Bytes
// after the last sentinel seed the next round. Only the tail of the buffer
// that could complete a sentinel is searched again.
func (d *Demux) Feed(chunk []byte) []Round {
	from := len(d.buf) - len(d.sentinel) + 1
	if from < 0 {
		from = 0
	}
	d.buf = append(d.buf, chunk...)
	var rounds []Round
	for {
		i := d.find(from)
		if i < 0 {
			return rounds
		}
		rounds = append(rounds, d.resolve(d.buf[:i]))
		rest := d.buf[i+len(d.sentinel):]
		d.buf = append([]byte(nil), rest...)
		from = 0
	}
}

// find returns the offset of the first sentinel at or after from that starts
// a line, or -1.
func (d *Demux) find(from int) int {
	for from <= len(d.buf) {
		j := bytes.Index(d.buf[from:], d.sentinel)
		if j < 0 {
			return -1
		}
		i := from + j
		if i == 0 || d.buf[i-1] == '\n' || d.buf[i-1] == '\r' {
			return i
		}
		from = i + 1
	}
	return -1
}

func (d *Demux) resolve(raw []byte) Round {
	text := d.dropSentinelLines(normalize(raw))
	if d.bootstrap {
		d.bootstrap = false
		r := Round{Bootstrap: true}
		if text == "" {
			return r
		}
		lines := strings.Split(text, "\n")
		r.Dir = strings.TrimSpace(lines[len(lines)-1])
		r.DirKnown = r.Dir != ""
		return r
	}
	return splitRound(text)
}

func (d *Demux) dropSentinelLines(text string) string {
	sentinel := string(d.sentinel)
	if !strings.Contains(text, sentinel) {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !strings.Contains(l, sentinel) {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func splitRound(text string) Round {
	if text == "" {
		return Round{}
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 1 {
		return Round{
			Output:   strings.Join(lines[:len(lines)-1], "\n"),
			Dir:      strings.TrimSpace(lines[len(lines)-1]),
			DirKnown: true,
		}
	}
	line := strings.TrimSpace(lines[0])
	if looksLikeDir(line) {
		return Round{Dir: line, DirKnown: true, SingleLineDir: true}
	}
	return Round{Output: line}
}

func looksLikeDir(line string) bool {
	return strings.HasPrefix(line, "/") || line == "~"
}

func normalize(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "\uFFFD")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}
