// Package mcp serves the command registry as MCP tools over a line-delimited
// JSON-RPC 2.0 stream.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jarsater/taskbridge/internal/diag"
	"github.com/jarsater/taskbridge/internal/lines"
	"github.com/jarsater/taskbridge/internal/metrics"
	"github.com/jarsater/taskbridge/internal/registry"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "taskbridge"

	// DefaultSelfCommand is the command that runs the bridge itself.
	DefaultSelfCommand = "serve"
)

// Registry is the set of commands exposed as tools.
type Registry interface {
	Commands() []registry.Command
	Find(name string) (registry.Command, bool)
	Invoke(ctx context.Context, cmd registry.Command, args, options map[string]any) (string, int, error)
}

// Server answers MCP requests read from a line stream.
type Server struct {
	registry   Registry
	sink       *diag.Sink
	logger     *zap.SugaredLogger
	self       string
	version    string
	readerOpts []lines.Option
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSink sets the diagnostics sink. Defaults to diag.Nop().
func WithSink(sink *diag.Sink) ServerOption {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithLogger sets the process logger.
func WithLogger(logger *zap.SugaredLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSelfCommand names the command that started the bridge. It is neither
// listed nor callable.
func WithSelfCommand(name string) ServerOption {
	return func(s *Server) {
		s.self = name
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithReaderOptions passes options to the input line reader.
func WithReaderOptions(opts ...lines.Option) ServerOption {
	return func(s *Server) {
		s.readerOpts = append(s.readerOpts, opts...)
	}
}

// NewServer creates a Server over reg.
func NewServer(reg Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry: reg,
		sink:     diag.Nop(),
		logger:   zap.NewNop().Sugar(),
		self:     DefaultSelfCommand,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads requests from in and writes responses to out, one JSON document
// per line, until in is closed or ctx is done.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.sink.Log("Starting MCP server")
	s.logger.Infow("MCP server started", "self", s.self, "version", s.version)

	reader := lines.NewReader(in, s.readerOpts...)
	for {
		line, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.sink.Log("Input closed, stopping MCP server")
				return nil
			}
			if ctx.Err() != nil {
				s.sink.Log("Stopping MCP server")
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		resp := s.HandleLine(ctx, line)
		if resp == nil {
			continue
		}
		if err := s.write(out, resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// HandleLine handles one request line. It returns nil when the line was a
// notification that gets no answer.
func (s *Server) HandleLine(ctx context.Context, line string) (resp *Response) {
	start := time.Now()
	metrics.RecordLineReceived()
	s.sink.Log("Received: " + line)

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		metrics.RecordMCPRequest("invalid", time.Since(start).Seconds())
		return s.applicationError(recoverID(line), err)
	}

	s.logger.Debugf("MCP request: method=%s id=%s", req.Method, req.ID)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Recovered panic in MCP dispatch", "method", req.Method, "panic", r)
			resp = s.applicationError(req.ID, fmt.Errorf("%v", r))
		}
		metrics.RecordMCPRequest(methodLabel(req.Method), time.Since(start).Seconds())
	}()

	result, rpcErr := s.dispatch(ctx, &req)
	if rpcErr != nil {
		return s.protocolError(req.ID, rpcErr)
	}
	if result == nil {
		return nil
	}
	return &Response{JSONRPC: "2.0", ID: responseID(req.ID), Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *Error) {
	switch req.Method {
	case "initialize":
		return s.initialize(), nil
	case "notifications/initialized":
		s.sink.Log("Client initialized")
		return nil, nil
	case "tools/list":
		metrics.RecordMCPToolsList()
		return ListToolsResult{Tools: BuildTools(s.registry.Commands(), s.self)}, nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	}

	if req.IsNotification() && strings.HasPrefix(req.Method, "notifications/") {
		s.sink.Log("Ignoring notification " + req.Method)
		return nil, nil
	}
	return nil, &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf(`Method "%s" not found`, req.Method)}
}

func (s *Server) initialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: Capabilities{
			Tools: &ToolsCapability{
				ListChanged: true,
			},
		},
		ServerInfo: Implementation{
			Name:    serverName,
			Version: s.version,
		},
	}
}

func (s *Server) protocolError(id json.RawMessage, rpcErr *Error) *Response {
	s.sink.Log("Protocol Error: " + rpcErr.Error())
	metrics.RecordMCPError(strconv.Itoa(rpcErr.Code))
	return &Response{JSONRPC: "2.0", ID: responseID(id), Error: rpcErr}
}

func (s *Server) applicationError(id json.RawMessage, err error) *Response {
	s.sink.Log("Error: " + err.Error())
	metrics.RecordMCPError(strconv.Itoa(ErrCodeInternal))
	return &Response{
		JSONRPC: "2.0",
		ID:      responseID(id),
		Error:   &Error{Code: ErrCodeInternal, Message: err.Error(), Data: decodeErrorData(err)},
	}
}

// recoverID extracts the id of an envelope whose other fields have the wrong
// type. It returns nil when the line is not a JSON object or the id itself is
// unusable.
func recoverID(line string) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return nil
	}
	return envelope.ID
}

// decodeErrorData locates a JSON decode failure in the input line.
func decodeErrorData(err error) any {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return map[string]any{"offset": syntaxErr.Offset}
	case errors.As(err, &typeErr):
		data := map[string]any{"offset": typeErr.Offset, "expected": typeErr.Type.String()}
		if typeErr.Field != "" {
			data["field"] = typeErr.Field
		}
		return data
	}
	return nil
}

func (s *Server) write(out io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		data, err = json.Marshal(s.applicationError(resp.ID, fmt.Errorf("encoding response: %w", err)))
		if err != nil {
			return err
		}
	}
	s.sink.Log("Sending: " + string(data))
	_, err = out.Write(append(data, '\n'))
	return err
}

// methodLabel keeps the request metric's label set bounded.
func methodLabel(method string) string {
	switch method {
	case "initialize", "notifications/initialized", "tools/list", "tools/call":
		return method
	}
	if strings.HasPrefix(method, "notifications/") {
		return "notification"
	}
	return "unknown"
}
