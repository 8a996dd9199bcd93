package timeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleRecord(cmd, output string) Record {
	start := time.Unix(1700000000, 123)
	return Record{
		ID:          uuid.NewString(),
		Session:     "sess-1",
		Console:     ConsoleAutomated,
		Command:     cmd,
		Output:      output,
		Dir:         "/home/user",
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	in := sampleRecord("echo hi", "hi")
	b, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Command != in.Command || out.Output != in.Output || out.Dir != in.Dir {
		t.Fatalf("out=%+v", out)
	}
	if !out.StartedAt.Equal(in.StartedAt) || out.Duration() != 1500*time.Millisecond {
		t.Fatalf("times started=%v duration=%v", out.StartedAt, out.Duration())
	}
}

func TestRecord_LargeOutputIsCompressed(t *testing.T) {
	big := strings.Repeat("line of repetitive build output\n", 200)
	in := sampleRecord("make", big)
	b, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) >= len(big) {
		t.Fatalf("encoded=%d not smaller than output=%d", len(b), len(big))
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Output != big {
		t.Fatalf("output mismatch len=%d", len(out.Output))
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	if _, err := Unmarshal([]byte{0x0a, 0x05, 'a'}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStore_AppendAndList(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	ctx := context.Background()
	for _, cmd := range []string{"one", "two", "three"} {
		if err := st.Record(ctx, sampleRecord(cmd, cmd+" out")); err != nil {
			t.Fatal(err)
		}
	}
	other := sampleRecord("ls", "")
	other.Console = ConsoleInteractive
	if err := st.Record(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := st.List(ConsoleAutomated, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Command != "one" || all[2].Output != "three out" {
		t.Fatalf("all=%+v", all)
	}
	last, err := st.List(ConsoleAutomated, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].Command != "two" {
		t.Fatalf("last=%+v", last)
	}
	inter, err := st.List(ConsoleInteractive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(inter) != 1 || inter[0].Command != "ls" {
		t.Fatalf("interactive=%+v", inter)
	}
}

func TestStore_MissingFile(t *testing.T) {
	recs, err := NewStore(t.TempDir()).List(ConsoleAutomated, 10)
	if err != nil || recs != nil {
		t.Fatalf("recs=%v err=%v", recs, err)
	}
}

func TestStore_TornTailIsIgnored(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	if err := st.Record(context.Background(), sampleRecord("ok", "fine")); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(dir, ConsoleAutomated+".timeline"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write([]byte{0x20, 0x0a, 0x01})
	_ = f.Close()

	recs, err := st.List(ConsoleAutomated, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Command != "ok" {
		t.Fatalf("recs=%+v", recs)
	}
}

type sinkFunc func(context.Context, Record) error

func (f sinkFunc) Record(ctx context.Context, r Record) error { return f(ctx, r) }

func TestFanout_JoinsErrors(t *testing.T) {
	var got []string
	ok := sinkFunc(func(_ context.Context, r Record) error { got = append(got, r.Command); return nil })
	bad := sinkFunc(func(context.Context, Record) error { return os.ErrPermission })
	err := Fanout{ok, nil, bad, ok}.Record(context.Background(), sampleRecord("x", ""))
	if err == nil || !strings.Contains(err.Error(), "permission") {
		t.Fatalf("err=%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got=%v", got)
	}
}

func TestSubject(t *testing.T) {
	if got := subject("aura", ConsoleAutomated); got != "aura.commands.automated" {
		t.Fatalf("subject=%q", got)
	}
	if got := subject("aura", " "); got != "aura.commands.unknown" {
		t.Fatalf("subject=%q", got)
	}
}

func TestMirror_PublishAndReplay(t *testing.T) {
	url := os.Getenv("AURA_TEST_NATS_URL")
	if url == "" {
		t.Skip("AURA_TEST_NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	prefix := "auratest" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	m, err := NewMirror(ctx, NATSOptions{URL: url, SubjectPrefix: prefix, Stream: prefix}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := sampleRecord("uname", "Linux")
	if err := m.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	// Same id inside the dupe window is stored once.
	if err := m.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	var seen []Record
	if err := m.Replay(ctx, func(r Record) error { seen = append(seen, r); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].Output != "Linux" {
		t.Fatalf("seen=%+v", seen)
	}
}
