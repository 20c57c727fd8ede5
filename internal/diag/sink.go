// Package diag implements the bridge's diagnostics sink: a plain text file
// receiving one timestamped line per event.
//
// Lines look like
//
//	[2026-10-17 09:30:00] [mcp] Received: {"jsonrpc":"2.0",...}
//
// where the bracketed name is present only when the sink was opened with
// WithName. The sink never writes to stdout and never reports write failures
// to its callers.
package diag

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrProtocolStream is returned by Open when the target is the process's
// standard output.
var ErrProtocolStream = errors.New("diagnostics sink cannot write to stdout")

const timeLayout = "2006-01-02 15:04:05"

// Sink appends diagnostic lines to a log target.
type Sink struct {
	logger *zap.Logger
	close  func()
}

type config struct {
	name   string
	clock  zapcore.Clock
	mirror *zap.Logger
}

// Option configures a Sink.
type Option func(*config)

// WithName prefixes every message with "[name]".
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithClock overrides the time source used for the timestamp.
func WithClock(clock zapcore.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithMirror also forwards every line to logger at debug level.
func WithMirror(logger *zap.Logger) Option {
	return func(c *config) {
		c.mirror = logger
	}
}

// Open opens path for appending, creating it if needed.
func Open(path string, opts ...Option) (*Sink, error) {
	if isStdout(path) {
		return nil, ErrProtocolStream
	}

	ws, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening diagnostics log %s: %w", path, err)
	}

	return newSink(ws, closeFn, opts...), nil
}

// New builds a sink writing to w. It is used by tests and by callers that
// already hold an open handle.
func New(w io.Writer, opts ...Option) *Sink {
	return newSink(zapcore.AddSync(w), func() {}, opts...)
}

// Nop returns a sink that discards everything.
func Nop() *Sink {
	return &Sink{logger: zap.NewNop(), close: func() {}}
}

func newSink(ws zapcore.WriteSyncer, closeFn func(), opts ...Option) *Sink {
	cfg := config{clock: zapcore.DefaultClock}
	for _, opt := range opts {
		opt(&cfg)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), ws, zapcore.DebugLevel)
	if cfg.mirror != nil {
		core = zapcore.NewTee(core, cfg.mirror.Core())
	}

	logger := zap.New(core,
		zap.WithClock(cfg.clock),
		// logging failures must not reach the protocol stream or the caller
		zap.ErrorOutput(zapcore.AddSync(io.Discard)),
	)
	if cfg.name != "" {
		logger = logger.Named(cfg.name)
	}

	return &Sink{logger: logger, close: closeFn}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(timeLayout) + "]")
		},
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
	}
}

// Log appends msg as one line.
func (s *Sink) Log(msg string) {
	s.logger.Debug(msg)
}

// Logf formats according to a format specifier and appends the result.
func (s *Sink) Logf(format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...))
}

// Close flushes and releases the underlying file.
func (s *Sink) Close() error {
	_ = s.logger.Sync()
	s.close()
	return nil
}

func isStdout(path string) bool {
	switch path {
	case "stdout", "-":
		return true
	}
	return filepath.Clean(path) == "/dev/stdout" || filepath.Clean(path) == "/proc/self/fd/1"
}
