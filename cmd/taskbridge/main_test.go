package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarsater/taskbridge/internal/registry"
)

const testManifest = `
commands:
  - name: greet
    description: Say hello
    arguments:
      - name: who
        required: true
    options:
      - name: loud
    run: ["sh", "-c", "echo hello $0"]
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskbridge.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, registry.Streams{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	return code, stdout.String(), stderr.String()
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, "", "--version")
	if code != 0 || out != "taskbridge dev\n" {
		t.Errorf("--version = %d %q", code, out)
	}
}

func TestRunDefaultsToList(t *testing.T) {
	code, out, stderr := runCLI(t, "", "--registry", writeManifest(t))
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Available commands:", "greet", "Say hello", "serve"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "", "-r", writeManifest(t), "nope")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown command: nope") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunBrokenManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbridge.yaml")
	if err := os.WriteFile(path, []byte("commands: [{name: bad}]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, _, stderr := runCLI(t, "", "-r", path)
	if code != 1 || !strings.Contains(stderr, "loading "+path) {
		t.Errorf("exit code %d, stderr %q", code, stderr)
	}
}

func TestRunMissingManifestKeepsBuiltins(t *testing.T) {
	code, out, _ := runCLI(t, "", "-r", filepath.Join(t.TempDir(), "absent.yaml"), "list", "--raw")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(out, "help") {
		t.Errorf("raw list = %q", out)
	}
}

func TestRunServe(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "mcp.log")
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"greet","arguments":{"arguments":{"who":"world"}}}}`,
	}, "\n") + "\n"

	code, out, stderr := runCLI(t, input, "-r", writeManifest(t), "-l", logFile, "--watch=false", "serve")
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr)
	}

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d response lines, want 3:\n%s", len(lines), out)
	}

	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &list); err != nil {
		t.Fatalf("tools/list response: %v", err)
	}
	var names []string
	for _, tool := range list.Result.Tools {
		names = append(names, tool.Name)
	}
	if got := strings.Join(names, ","); got != "help,list,greet" {
		t.Errorf("tools = %s", got)
	}

	var call struct {
		ID     int `json:"id"`
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &call); err != nil {
		t.Fatalf("tools/call response: %v", err)
	}
	if call.ID != 3 || call.Result.IsError || call.Result.Content[0].Text != "hello world\n" {
		t.Errorf("tools/call = %+v", call)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "[mcp] Received: ") {
		t.Errorf("diagnostics log missing received lines:\n%s", data)
	}
}

func TestParseFlagsEnvironment(t *testing.T) {
	t.Setenv("TASKBRIDGE_REGISTRY", "/etc/taskbridge.jsonc")
	t.Setenv("TASKBRIDGE_METRICS_ADDR", ":9100")

	cfg, rest, err := parseFlags([]string{"--log-file", "/tmp/x.log", "help", "--raw"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.registryPath != "/etc/taskbridge.jsonc" || cfg.metricsAddr != ":9100" || cfg.logFile != "/tmp/x.log" || !cfg.watch {
		t.Errorf("config = %+v", cfg)
	}
	if strings.Join(rest, " ") != "help --raw" {
		t.Errorf("rest = %q", rest)
	}
}
