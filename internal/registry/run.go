package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/jarsater/taskbridge/internal/metrics"
)

// Streams are the standard streams of a command run. A nil Stdin reads from
// the null device; a nil Stderr is forwarded to the registry's logger.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the command named name with a raw command line.
func (s *Set) Run(ctx context.Context, name string, argv []string, streams Streams) (int, error) {
	cmd, ok := s.Find(name)
	if !ok {
		return 1, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return s.run(ctx, cmd, argv, streams)
}

// Invoke runs cmd with a generic payload (see BuildArgv) and returns its
// captured stdout and exit status. Standard input is never inherited.
func (s *Set) Invoke(ctx context.Context, cmd Command, args, options map[string]any) (string, int, error) {
	argv, err := BuildArgv(cmd, args, options)
	if err != nil {
		return "", 1, err
	}

	var out bytes.Buffer
	code, err := s.run(ctx, cmd, argv, Streams{Stdout: &out})
	return out.String(), code, err
}

func (s *Set) run(ctx context.Context, cmd Command, argv []string, streams Streams) (int, error) {
	if streams.Stdout == nil {
		streams.Stdout = io.Discard
	}
	if streams.Stderr == nil {
		w := &zapio.Writer{Log: s.logger.Desugar().With(zap.String("command", cmd.Name)), Level: zapcore.InfoLevel}
		defer func() { _ = w.Close() }()
		streams.Stderr = w
	}

	start := time.Now()
	kind := "exec"
	if cmd.Handler != nil {
		kind = "func"
	}
	defer func() {
		metrics.RecordInvocation(cmd.Name, kind, time.Since(start).Seconds())
	}()

	if cmd.Handler != nil {
		return runHandler(ctx, cmd, argv, streams)
	}
	return runExec(ctx, cmd, argv, streams)
}

func runHandler(ctx context.Context, cmd Command, argv []string, streams Streams) (int, error) {
	fs := cmd.FlagSet()
	if err := fs.Parse(argv); err != nil {
		return 1, err
	}

	args, err := bindArguments(cmd, fs.Args())
	if err != nil {
		return 1, err
	}

	stdin := streams.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	return cmd.Handler(ctx, &Input{
		Command: cmd,
		Flags:   fs,
		Stdin:   stdin,
		Stdout:  streams.Stdout,
		Stderr:  streams.Stderr,
		args:    args,
	})
}

// bindArguments maps positional values onto the declared arguments.
func bindArguments(cmd Command, values []string) (map[string][]string, error) {
	args := make(map[string][]string, len(cmd.Arguments))
	var missing []string

	for _, a := range cmd.Arguments {
		switch {
		case len(values) > 0 && a.IsArray():
			args[a.Name] = values
			values = nil
		case len(values) > 0:
			args[a.Name] = values[:1]
			values = values[1:]
		case a.Required:
			missing = append(missing, fmt.Sprintf("%q", a.Name))
		case a.Default != nil:
			def, err := stringValues(a.Default)
			if err != nil {
				return nil, fmt.Errorf("argument %q default: %w", a.Name, err)
			}
			args[a.Name] = def
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("not enough arguments (missing: %s)", strings.Join(missing, ", "))
	}
	if len(values) > 0 {
		return nil, fmt.Errorf("too many arguments for %q: unexpected %q", cmd.Name, values[0])
	}
	return args, nil
}

func runExec(ctx context.Context, cmd Command, argv []string, streams Streams) (int, error) {
	program := cmd.Run[0]
	c := exec.CommandContext(ctx, program, append(slices.Clone(cmd.Run[1:]), argv...)...)
	c.Dir = cmd.Dir
	c.Stdin = streams.Stdin
	c.Stdout = streams.Stdout
	c.Stderr = streams.Stderr
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for _, key := range slices.Sorted(maps.Keys(cmd.Env)) {
			c.Env = append(c.Env, key+"="+cmd.Env[key])
		}
	}

	err := c.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// terminated by a signal
			code = 1
		}
		return code, nil
	}
	if err != nil {
		return 1, fmt.Errorf("running %s: %w", program, err)
	}
	return 0, nil
}
