package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// BuildArgv turns a generic payload into command-line arguments for cmd.
//
// Options come first, in declared order, as --name=value (repeated for array
// options) or a bare --name when the value is nil. Array options always need
// a value. Positional arguments follow
// in declared order; a "--" separator is inserted when one of them starts
// with a dash. Arguments omitted before the last given one take their
// default value.
func BuildArgv(cmd Command, args, options map[string]any) ([]string, error) {
	for _, name := range slices.Sorted(maps.Keys(args)) {
		if _, ok := cmd.Argument(name); !ok {
			return nil, fmt.Errorf("the %q argument does not exist", name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(options)) {
		if _, ok := cmd.Option(name); !ok {
			return nil, fmt.Errorf("the \"--%s\" option does not exist", name)
		}
	}

	var argv []string
	for _, o := range cmd.Options {
		value, ok := options[o.Name]
		if !ok {
			continue
		}
		flags, err := optionFlags(o, value)
		if err != nil {
			return nil, err
		}
		argv = append(argv, flags...)
	}

	positional, err := positionalValues(cmd, args)
	if err != nil {
		return nil, err
	}
	for _, v := range positional {
		if strings.HasPrefix(v, "-") {
			argv = append(argv, "--")
			break
		}
	}
	return append(argv, positional...), nil
}

func optionFlags(o Option, value any) ([]string, error) {
	flag := "--" + o.Name

	if value == nil {
		if o.Required || o.IsArray() {
			return nil, fmt.Errorf("the %q option requires a value", flag)
		}
		if o.AcceptsValue() {
			return []string{flag + "="}, nil
		}
		return []string{flag}, nil
	}

	if !o.AcceptsValue() {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("the %q option does not accept a value", flag)
		}
		if !b {
			return nil, nil
		}
		return []string{flag}, nil
	}

	if _, isList := value.([]any); isList && !o.IsArray() {
		return nil, fmt.Errorf("the %q option does not accept multiple values", flag)
	}
	values, err := stringValues(value)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", flag, err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, flag+"="+v)
	}
	return out, nil
}

func positionalValues(cmd Command, args map[string]any) ([]string, error) {
	var missing []string
	last := -1
	for i, a := range cmd.Arguments {
		if v, ok := args[a.Name]; ok && v != nil {
			last = i
		} else if a.Required {
			missing = append(missing, strconv.Quote(a.Name))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("not enough arguments (missing: %s)", strings.Join(missing, ", "))
	}

	var out []string
	for _, a := range cmd.Arguments[:last+1] {
		value, ok := args[a.Name]
		if !ok || value == nil {
			value = a.Default
		}
		if value == nil {
			return nil, fmt.Errorf("argument %q must be set when a later argument is given", a.Name)
		}
		if _, isList := value.([]any); isList && !a.IsArray() {
			return nil, fmt.Errorf("the %q argument does not accept multiple values", a.Name)
		}
		values, err := stringValues(value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a.Name, err)
		}
		out = append(out, values...)
	}
	return out, nil
}

// stringValues flattens a scalar or a list into command-line values.
func stringValues(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := stringValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := stringValue(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func stringValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	case json.Number:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("null is not a valid value")
	default:
		return "", fmt.Errorf("value of type %T cannot be passed on the command line", value)
	}
}
