package registry

import (
	"strings"
	"testing"
)

const yamlManifest = `
commands:
  - name: build
    description: Build the project
    run: ["make", "build"]
    arguments:
      - name: target
        required: true
        description: Make target
    options:
      - name: verbose
        shortcut: v
      - name: jobs
        type: string
        default: 4
  - name: internal:cleanup
    hidden: true
    run: ["rm", "-rf", "build"]
`

const jsonManifest = `{
  // comments and trailing commas are fine
  "commands": [
    {
      "name": "build",
      "description": "Build the project",
      "run": ["make", "build"],
      "arguments": [{"name": "target", "required": true, "description": "Make target"}],
      "options": [
        {"name": "verbose", "shortcut": "v"},
        {"name": "jobs", "type": "string", "default": 4},
      ],
    },
    {"name": "internal:cleanup", "hidden": true, "run": ["rm", "-rf", "build"]},
  ],
}`

func TestParseManifest(t *testing.T) {
	for _, tc := range []struct {
		format Format
		data   string
	}{
		{FormatYAML, yamlManifest},
		{FormatJSON, jsonManifest},
	} {
		t.Run(string(tc.format), func(t *testing.T) {
			m, err := ParseManifest([]byte(tc.data), tc.format)
			if err != nil {
				t.Fatalf("ParseManifest: %v", err)
			}
			if len(m.Commands) != 2 {
				t.Fatalf("expected 2 commands, got %d", len(m.Commands))
			}

			build := m.Commands[0]
			if build.Name != "build" || build.Description != "Build the project" {
				t.Errorf("unexpected command: %+v", build)
			}
			if build.Arguments[0].Type != TypeString || !build.Arguments[0].Required {
				t.Errorf("argument not normalized: %+v", build.Arguments[0])
			}
			if build.Options[0].Type != TypeBoolean || build.Options[0].Shortcut != "v" {
				t.Errorf("option not normalized: %+v", build.Options[0])
			}
			if v, err := stringValue(build.Options[1].Default); err != nil || v != "4" {
				t.Errorf("jobs default = %v (%v), want 4", build.Options[1].Default, err)
			}
			if !m.Commands[1].Hidden {
				t.Error("cleanup should be hidden")
			}
		})
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		errContains string
	}{
		{
			name:        "unknown field",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n    colour: red\n",
			errContains: "colour",
		},
		{
			name:        "duplicate names",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n  - name: a\n    run: [\"true\"]\n",
			errContains: `duplicate command "a"`,
		},
		{
			name:        "missing run",
			data:        "commands:\n  - name: a\n",
			errContains: "exactly one of run or handler",
		},
		{
			name:        "array argument not last",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n    arguments:\n      - {name: x, type: array}\n      - {name: y}\n",
			errContains: "must be the last argument",
		},
		{
			name:        "required after optional",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n    arguments:\n      - {name: x}\n      - {name: y, required: true}\n",
			errContains: "follows optional argument",
		},
		{
			name:        "bad option type",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n    options:\n      - {name: x, type: number}\n",
			errContains: "invalid type",
		},
		{
			name:        "long shortcut",
			data:        "commands:\n  - name: a\n    run: [\"true\"]\n    options:\n      - {name: x, shortcut: xx}\n",
			errContains: "single character",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data), FormatYAML)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestEmptyManifest(t *testing.T) {
	m, err := ParseManifest(nil, FormatYAML)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Commands) != 0 {
		t.Errorf("expected no commands, got %d", len(m.Commands))
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"tasks.yaml":    FormatYAML,
		"tasks.YML":     FormatYAML,
		"tasks.json":    FormatJSON,
		"tasks.jsonc":   FormatJSON,
		"tasks":         FormatYAML,
		"/etc/tb/x.txt": FormatYAML,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestSampleManifestLoads(t *testing.T) {
	s := NewSet(nil)
	if err := s.LoadFromFile("../../taskbridge.yaml"); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	cmd, ok := s.Find("git:log")
	if !ok {
		t.Fatal("git:log not loaded")
	}
	argv, err := BuildArgv(cmd, nil, map[string]any{"max-count": "3", "oneline": nil})
	if err != nil {
		t.Fatalf("BuildArgv: %v", err)
	}
	if got := strings.Join(argv, " "); got != "--max-count=3 --oneline" {
		t.Errorf("argv = %q", got)
	}
}
