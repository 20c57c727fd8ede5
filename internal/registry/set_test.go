package registry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/jarsater/taskbridge/internal/metrics"
)

func names(cmds []Command) string {
	var out []string
	for _, c := range cmds {
		out = append(out, c.Name)
	}
	return strings.Join(out, ",")
}

func TestSetOrderAndReplace(t *testing.T) {
	s := NewSet(nil)
	if err := s.Register(Builtins(s)...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.LoadFromBytes([]byte(yamlManifest), FormatYAML); err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if got := names(s.Commands()); got != "help,list,build,internal:cleanup" {
		t.Errorf("order = %s", got)
	}

	if err := s.Replace([]Command{{Name: "list", Run: []string{"ls"}}}); err == nil {
		t.Error("expected clash with built-in list to be rejected")
	}
	if got := names(s.Commands()); got != "help,list,build,internal:cleanup" {
		t.Errorf("failed replace changed the registry: %s", got)
	}

	if err := s.Replace(nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := names(s.Commands()); got != "help,list" {
		t.Errorf("after replace = %s", got)
	}
}

func TestSetSnapshotIsIsolated(t *testing.T) {
	s := newTestSet(t, greetCommand())
	snapshot := s.Commands()
	snapshot[0].Arguments[0].Name = "mutated"

	cmd, _ := s.Find("greet")
	if cmd.Arguments[0].Name != "who" {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestBuiltinListAndHelp(t *testing.T) {
	s := NewSet(nil)
	if err := s.Register(Builtins(s)...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.LoadFromBytes([]byte(yamlManifest), FormatYAML); err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	var out bytes.Buffer
	if code, err := s.Run(context.Background(), "list", []string{"--raw"}, Streams{Stdout: &out}); err != nil || code != 0 {
		t.Fatalf("list: code=%d err=%v", code, err)
	}
	if !strings.Contains(out.String(), "build") || strings.Contains(out.String(), "internal:cleanup") {
		t.Errorf("unexpected list output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Available commands") {
		t.Error("raw output should not have a header")
	}

	out.Reset()
	if code, err := s.Run(context.Background(), "help", []string{"build"}, Streams{Stdout: &out}); err != nil || code != 0 {
		t.Fatalf("help: code=%d err=%v", code, err)
	}
	for _, want := range []string{"Build the project", "build [options] [--] <target>", "-v, --verbose", "--jobs[=JOBS]"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q:\n%s", want, out.String())
		}
	}
}

func reloads(result string) float64 {
	return testutil.ToFloat64(metrics.RegistryReloadsTotal.WithLabelValues(result))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchReloadsManifest(t *testing.T) {
	reloadDelay = 20 * time.Millisecond

	dir := t.TempDir()
	path := filepath.Join(dir, "taskbridge.yaml")
	if err := os.WriteFile(path, []byte("commands:\n  - name: a\n    run: [\"true\"]\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	s := NewSet(nil)
	if err := s.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, zap.NewNop().Sugar(), path, s) }()

	// The watcher registers asynchronously, so keep rewriting until a
	// reload is seen.
	manifestB := []byte("commands:\n  - name: b\n    run: [\"true\"]\n")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := os.WriteFile(path, manifestB, 0o644); err != nil {
			t.Fatalf("rewrite manifest: %v", err)
		}
		time.Sleep(4 * reloadDelay)
		if _, ok := s.Find("b"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("manifest change was not picked up")
		}
	}
	if _, ok := s.Find("a"); ok {
		t.Error("old command still present after reload")
	}

	tests := []struct {
		name string
		data string
	}{
		{"broken", "commands: [\n"},
		{"empty", ""},
		{"blank", "\n  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := reloads("error")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatalf("write manifest: %v", err)
			}
			waitFor(t, "failed reload", func() bool { return reloads("error") > before })
			if _, ok := s.Find("b"); !ok {
				t.Error("failed reload dropped the registry")
			}
		})
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestReloadRejectsEmptyManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbridge.yaml")
	s := NewSet(nil)
	if err := s.Replace([]Command{{Name: "b", Run: []string{"true"}}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	for _, data := range []string{"", " \n\t\n"} {
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
		if err := s.reloadFromFile(path); !errors.Is(err, errEmptyManifest) {
			t.Errorf("reloadFromFile(%q) = %v, want errEmptyManifest", data, err)
		}
		if _, ok := s.Find("b"); !ok {
			t.Errorf("reload of %q dropped the registry", data)
		}
	}

	if err := os.WriteFile(path, []byte("commands: []\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := s.reloadFromFile(path); err != nil {
		t.Fatalf("reloadFromFile: %v", err)
	}
	if got := names(s.Commands()); got != "" {
		t.Errorf("explicitly empty command list kept %s", got)
	}
}
