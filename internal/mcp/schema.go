package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/jarsater/taskbridge/internal/registry"
)

const (
	schemaDraft07 = "http://json-schema.org/draft-07/schema#"
	noDescription = "No description available"
)

// InputSchema is the JSON Schema of a tool's call payload.
type InputSchema struct {
	Type       string          `json:"type"`
	Properties InputProperties `json:"properties"`
	Required   []string        `json:"required"`
	Schema     string          `json:"$schema"`
}

// InputProperties splits the payload into positional arguments and options.
type InputProperties struct {
	Arguments ObjectSchema `json:"arguments"`
	Options   ObjectSchema `json:"options"`
}

// ObjectSchema describes a JSON object whose properties keep their declared
// order when serialized.
type ObjectSchema struct {
	Type        string     `json:"type"`
	Properties  Properties `json:"properties"`
	Description string     `json:"description"`
	Required    []string   `json:"required,omitempty"`
}

// Property is one named entry of a Properties list.
type Property struct {
	Name   string
	Schema any
}

// Properties is an ordered JSON object.
type Properties []Property

// MarshalJSON implements json.Marshaler.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(prop.Schema)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ArgumentSchema describes one positional argument.
type ArgumentSchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// OptionSchema describes one --option.
type OptionSchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Shortcut    string `json:"shortcut,omitempty"`
}

// BuildTools describes every visible command as a tool, in registry order.
// Hidden commands and the command named self are left out.
func BuildTools(commands []registry.Command, self string) []Tool {
	tools := make([]Tool, 0, len(commands))
	for _, cmd := range commands {
		if cmd.Hidden || cmd.Name == self {
			continue
		}
		tools = append(tools, Tool{
			Name:        cmd.Name,
			Description: describe(cmd.Description),
			InputSchema: buildInputSchema(cmd),
		})
	}
	return tools
}

func buildInputSchema(cmd registry.Command) *InputSchema {
	args := ObjectSchema{
		Type:        "object",
		Properties:  make(Properties, 0, len(cmd.Arguments)),
		Description: "Command arguments",
	}
	for _, a := range cmd.Arguments {
		args.Properties = append(args.Properties, Property{Name: a.Name, Schema: argumentSchema(a)})
		if a.Required {
			args.Required = append(args.Required, a.Name)
		}
	}

	opts := ObjectSchema{
		Type:        "object",
		Properties:  make(Properties, 0, len(cmd.Options)),
		Description: "Command options",
	}
	for _, o := range cmd.Options {
		opts.Properties = append(opts.Properties, Property{Name: o.Name, Schema: optionSchema(o)})
	}

	return &InputSchema{
		Type:       "object",
		Properties: InputProperties{Arguments: args, Options: opts},
		Required:   []string{"arguments"},
		Schema:     schemaDraft07,
	}
}

func argumentSchema(a registry.Argument) ArgumentSchema {
	typ := "string"
	if a.IsArray() {
		typ = "array"
	}
	return ArgumentSchema{
		Type:        typ,
		Description: describe(a.Description),
		Required:    a.Required,
		Default:     a.Default,
	}
}

func optionSchema(o registry.Option) OptionSchema {
	typ := "boolean"
	switch {
	case o.IsArray():
		typ = "array"
	case o.AcceptsValue():
		typ = "string"
	}
	return OptionSchema{
		Type:        typ,
		Description: describe(o.Description),
		Required:    o.AcceptsValue() && o.Required,
		Default:     o.Default,
		Shortcut:    o.Shortcut,
	}
}

func describe(s string) string {
	if s == "" {
		return noDescription
	}
	return s
}
