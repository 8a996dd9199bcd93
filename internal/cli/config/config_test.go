package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/antonkrylov/aura/internal/shell"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || cfg != nil {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
	if cfg, err := Load("  "); err != nil || cfg != nil {
		t.Fatalf("blank path: cfg=%v err=%v", cfg, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		CurrentProfile: "work",
		Profiles: map[string]*Profile{
			"work": {
				Shell:          "/bin/zsh",
				Args:           []string{"-f"},
				Env:            map[string]string{"B": "2", "A": "1"},
				Transport:      TransportPTY,
				StartTimeoutMs: 2500,
				Prompt:         "> ",
			},
		},
		Timeline: Timeline{Dir: "/var/lib/aura"},
		NATS:     NATS{URL: "nats://127.0.0.1:4222", SubjectPrefix: "dev"},
	}
	if err := in.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%v", info.Mode().Perm())
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestLoad_RejectsUnknownTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "profiles:\n  bad:\n    transport: telnet\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolve(t *testing.T) {
	var nilCfg *Config
	p, name, err := nilCfg.Resolve("")
	if err != nil || name != "default" || p == nil {
		t.Fatalf("nil config: p=%v name=%q err=%v", p, name, err)
	}
	if _, _, err := nilCfg.Resolve("work"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err=%v", err)
	}

	cfg := &Config{
		CurrentProfile: "a",
		Profiles:       map[string]*Profile{"a": {Shell: "/bin/sh"}, "b": nil},
	}
	p, name, err = cfg.Resolve("")
	if err != nil || name != "a" || p.Shell != "/bin/sh" {
		t.Fatalf("p=%v name=%q err=%v", p, name, err)
	}
	p, _, err = cfg.Resolve("b")
	if err != nil || p == nil {
		t.Fatalf("nil profile entry: p=%v err=%v", p, err)
	}
	if _, _, err := cfg.Resolve("c"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestProfile_ShellConfig(t *testing.T) {
	p := &Profile{
		Shell:          "/bin/bash",
		Args:           []string{"--norc"},
		Dir:            "/srv",
		Env:            map[string]string{"Z": "last", "A": "first"},
		StartTimeoutMs: 1500,
		StopTimeoutMs:  250,
	}
	cfg, err := p.ShellConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := shell.Config{
		Program:      "/bin/bash",
		Args:         []string{"--norc"},
		Dir:          "/srv",
		Env:          []string{"A=first", "Z=last"},
		StartTimeout: 1500 * time.Millisecond,
		StopTimeout:  250 * time.Millisecond,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got=%+v want=%+v", cfg, want)
	}
}

func TestProfile_Spawner(t *testing.T) {
	if _, ok := (&Profile{Transport: "PTY"}).Spawner().(shell.PTYSpawner); !ok {
		t.Fatalf("pty transport did not select PTYSpawner")
	}
	if _, ok := (&Profile{}).Spawner().(shell.PipeSpawner); !ok {
		t.Fatalf("default transport did not select PipeSpawner")
	}
}

func TestDefaultPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AURA_HOME", dir)
	if got := DefaultConfigPath(); got != filepath.Join(dir, "config.yaml") {
		t.Fatalf("path=%q", got)
	}
	var cfg *Config
	if got := cfg.TimelineDir(); got != filepath.Join(dir, "timeline") {
		t.Fatalf("timeline=%q", got)
	}
	if got := (&Config{Timeline: Timeline{Dir: "/data/tl"}}).TimelineDir(); got != "/data/tl" {
		t.Fatalf("timeline=%q", got)
	}
}
