// Package registry holds the set of commands taskbridge can run.
//
// Commands come from a manifest file (YAML or JSON with comments) or are
// registered in code with an in-process Handler. The registry knows how to
// turn a generic argument/option payload into a command line and how to run
// it; it does not know anything about the MCP protocol.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// ErrUnknownCommand is returned when a command name is not registered.
var ErrUnknownCommand = errors.New("unknown command")

// Type is the value type of an argument or option.
type Type string

const (
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeBoolean Type = "boolean"
)

// Argument is a positional command argument.
type Argument struct {
	Name        string `yaml:"name" json:"name"`
	Type        Type   `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// IsArray reports whether the argument takes every remaining value.
func (a Argument) IsArray() bool {
	return a.Type == TypeArray
}

// Option is a named --flag. Required means the option needs a value when it
// is given; it does not make the option itself mandatory.
type Option struct {
	Name        string `yaml:"name" json:"name"`
	Type        Type   `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Shortcut    string `yaml:"shortcut,omitempty" json:"shortcut,omitempty"`
}

// AcceptsValue reports whether the option carries a value.
func (o Option) AcceptsValue() bool {
	return o.Type != TypeBoolean
}

// IsArray reports whether the option may be repeated.
func (o Option) IsArray() bool {
	return o.Type == TypeArray
}

// Handler runs an in-process command. A non-zero exit code reports a failure
// the command handled itself; an error reports that the command could not
// run at all.
type Handler func(ctx context.Context, in *Input) (int, error)

// Command is one runnable task.
type Command struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Hidden      bool       `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Arguments   []Argument `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Options     []Option   `yaml:"options,omitempty" json:"options,omitempty"`

	// Run is the argv prefix of an external program. Built arguments and
	// options are appended to it.
	Run []string          `yaml:"run,omitempty" json:"run,omitempty"`
	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	Handler Handler `yaml:"-" json:"-"`
}

// Argument returns the argument named name.
func (c *Command) Argument(name string) (Argument, bool) {
	for _, a := range c.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}

// Option returns the option named name.
func (c *Command) Option(name string) (Option, bool) {
	for _, o := range c.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// normalize fills in default types and checks the definition.
func (c *Command) normalize() error {
	if c.Name == "" {
		return errors.New("command name is required")
	}
	if strings.ContainsAny(c.Name, " \t\r\n") {
		return fmt.Errorf("command %q: name must not contain whitespace", c.Name)
	}
	if (len(c.Run) == 0) == (c.Handler == nil) {
		return fmt.Errorf("command %q: exactly one of run or handler must be set", c.Name)
	}

	seen := make(map[string]bool)
	optional := ""
	for i := range c.Arguments {
		a := &c.Arguments[i]
		if a.Type == "" {
			a.Type = TypeString
		}
		switch {
		case a.Name == "":
			return fmt.Errorf("command %q: argument %d has no name", c.Name, i)
		case seen[a.Name]:
			return fmt.Errorf("command %q: duplicate argument %q", c.Name, a.Name)
		case a.Type != TypeString && a.Type != TypeArray:
			return fmt.Errorf("command %q: argument %q has invalid type %q", c.Name, a.Name, a.Type)
		case a.IsArray() && i != len(c.Arguments)-1:
			return fmt.Errorf("command %q: array argument %q must be the last argument", c.Name, a.Name)
		case a.Required && optional != "":
			return fmt.Errorf("command %q: required argument %q follows optional argument %q", c.Name, a.Name, optional)
		}
		seen[a.Name] = true
		if !a.Required {
			optional = a.Name
		}
	}

	seen = make(map[string]bool)
	shortcuts := make(map[string]bool)
	for i := range c.Options {
		o := &c.Options[i]
		if o.Type == "" {
			o.Type = TypeBoolean
		}
		switch {
		case o.Name == "":
			return fmt.Errorf("command %q: option %d has no name", c.Name, i)
		case seen[o.Name]:
			return fmt.Errorf("command %q: duplicate option %q", c.Name, o.Name)
		case o.Type != TypeString && o.Type != TypeArray && o.Type != TypeBoolean:
			return fmt.Errorf("command %q: option %q has invalid type %q", c.Name, o.Name, o.Type)
		case o.Type == TypeBoolean && o.Required:
			return fmt.Errorf("command %q: boolean option %q cannot require a value", c.Name, o.Name)
		case len(o.Shortcut) > 1:
			return fmt.Errorf("command %q: option %q shortcut must be a single character", c.Name, o.Name)
		case o.Shortcut != "" && shortcuts[o.Shortcut]:
			return fmt.Errorf("command %q: duplicate shortcut %q", c.Name, o.Shortcut)
		}
		seen[o.Name] = true
		if o.Shortcut != "" {
			shortcuts[o.Shortcut] = true
		}
	}

	return nil
}

// FlagSet builds a pflag.FlagSet declaring the command's options.
func (c *Command) FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(c.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(true)

	for _, o := range c.Options {
		desc := o.Description
		switch o.Type {
		case TypeBoolean:
			def, _ := o.Default.(bool)
			fs.BoolP(o.Name, o.Shortcut, def, desc)
		case TypeArray:
			def, _ := stringValues(o.Default)
			fs.StringArrayP(o.Name, o.Shortcut, def, desc)
		default:
			def := ""
			if o.Default != nil {
				def, _ = stringValue(o.Default)
			}
			fs.StringP(o.Name, o.Shortcut, def, desc)
		}
	}

	return fs
}

// Input is what an in-process Handler receives.
type Input struct {
	Command Command
	Flags   *pflag.FlagSet
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer

	args map[string][]string
}

// Arg returns the value of a single-value argument, or "" when unset.
func (in *Input) Arg(name string) string {
	if v := in.args[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ArgValues returns every value of an argument.
func (in *Input) ArgValues(name string) []string {
	return in.args[name]
}

// Printf writes formatted output to the command's stdout.
func (in *Input) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(in.Stdout, format, args...)
}
