package registry

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Builtins returns the "list" and "help" commands bound to s.
func Builtins(s *Set) []Command {
	return []Command{
		{
			Name:        "help",
			Description: "Display help for a command",
			Arguments: []Argument{
				{Name: "command_name", Description: "The command name", Default: "help"},
			},
			Handler: func(ctx context.Context, in *Input) (int, error) {
				name := in.Arg("command_name")
				cmd, ok := s.Find(name)
				if !ok {
					return 1, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
				}
				writeHelp(in, cmd)
				return 0, nil
			},
		},
		{
			Name:        "list",
			Description: "List commands",
			Arguments: []Argument{
				{Name: "namespace", Description: "Only list commands in this namespace"},
			},
			Options: []Option{
				{Name: "raw", Type: TypeBoolean, Description: "To output raw command list"},
			},
			Handler: func(ctx context.Context, in *Input) (int, error) {
				raw, err := in.Flags.GetBool("raw")
				if err != nil {
					return 1, err
				}
				writeList(in, s.Commands(), in.Arg("namespace"), raw)
				return 0, nil
			},
		},
	}
}

func writeList(in *Input, cmds []Command, namespace string, raw bool) {
	tw := tabwriter.NewWriter(in.Stdout, 0, 0, 2, ' ', 0)
	if !raw {
		_, _ = fmt.Fprintln(tw, "Available commands:")
	}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		if namespace != "" && !strings.HasPrefix(c.Name, namespace+":") {
			continue
		}
		if raw {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Description)
		} else {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Description)
		}
	}
	_ = tw.Flush()
}

func writeHelp(in *Input, cmd Command) {
	if cmd.Description != "" {
		in.Printf("Description:\n  %s\n\n", cmd.Description)
	}
	in.Printf("Usage:\n  %s\n", Usage(cmd))

	tw := tabwriter.NewWriter(in.Stdout, 0, 0, 2, ' ', 0)
	if len(cmd.Arguments) > 0 {
		_, _ = fmt.Fprintln(tw, "\nArguments:")
		for _, a := range cmd.Arguments {
			desc := a.Description
			if a.Default != nil {
				desc += fmt.Sprintf(" [default: %v]", a.Default)
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", a.Name, desc)
		}
	}
	if len(cmd.Options) > 0 {
		_, _ = fmt.Fprintln(tw, "\nOptions:")
		for _, o := range cmd.Options {
			names := "    --" + o.Name
			if o.Shortcut != "" {
				names = "-" + o.Shortcut + ", --" + o.Name
			}
			switch {
			case !o.AcceptsValue():
			case o.Required:
				names += "=" + strings.ToUpper(o.Name)
			default:
				names += "[=" + strings.ToUpper(o.Name) + "]"
			}
			desc := o.Description
			if o.Default != nil && o.AcceptsValue() {
				desc += fmt.Sprintf(" [default: %v]", o.Default)
			}
			if o.IsArray() {
				desc += " (multiple values allowed)"
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", names, desc)
		}
	}
	_ = tw.Flush()
}

// Usage returns a one-line synopsis such as "deploy [options] [--] <env> [<tags>...]".
func Usage(cmd Command) string {
	parts := []string{cmd.Name}
	if len(cmd.Options) > 0 {
		parts = append(parts, "[options]")
	}
	if len(cmd.Arguments) > 0 {
		parts = append(parts, "[--]")
	}
	for _, a := range cmd.Arguments {
		elem := "<" + a.Name + ">"
		if a.IsArray() {
			elem += "..."
		}
		if !a.Required {
			elem = "[" + elem + "]"
		}
		parts = append(parts, elem)
	}
	return strings.Join(parts, " ")
}
