package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Manifest is the on-disk registry description.
type Manifest struct {
	Commands []Command `yaml:"commands" json:"commands"`
}

// FormatForPath picks the manifest format from a file extension. Unknown
// extensions are read as YAML, which also accepts plain JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// ParseManifest decodes a manifest. JSON manifests may contain comments and
// trailing commas. Unknown fields are rejected in both formats.
func ParseManifest(data []byte, format Format) (*Manifest, error) {
	var m Manifest

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding JSON manifest: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding YAML manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}

	if err := checkCommands(m.Commands, nil); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFromFile replaces the manifest commands with the content of path.
func (s *Set) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.LoadFromBytes(data, FormatForPath(path))
}

// LoadFromBytes replaces the manifest commands with a decoded manifest.
// On error the current commands are kept.
func (s *Set) LoadFromBytes(data []byte, format Format) error {
	m, err := ParseManifest(data, format)
	if err != nil {
		return err
	}
	return s.Replace(m.Commands)
}
