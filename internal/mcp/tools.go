package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jarsater/taskbridge/internal/metrics"
	"github.com/jarsater/taskbridge/internal/registry"
)

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params CallToolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &Error{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("Invalid params: %v", err)}
		}
	}
	if params.Name == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "Tool name is required"}
	}

	cmd, ok := s.registry.Find(params.Name)
	if !ok || params.Name == s.self {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "Unknown tool: " + params.Name}
	}

	s.logger.Debugf("Tool call: %s with args: %v options: %v", params.Name, params.Arguments.Arguments, params.Arguments.Options)
	return s.invoke(ctx, cmd, params.Arguments), nil
}

// invoke runs cmd once. Failures of the command itself never leave this
// function as protocol errors; they are reported in the tool result.
func (s *Server) invoke(ctx context.Context, cmd registry.Command, payload ToolArguments) (result *CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Recovered panic in tool", "tool", cmd.Name, "panic", r)
			result = s.toolError(cmd.Name, fmt.Errorf("%v", r))
		}
	}()

	options := make(map[string]any, len(payload.Options))
	for name, value := range payload.Options {
		if b, ok := value.(bool); ok && b {
			options[name] = nil
			continue
		}
		options[name] = value
	}

	output, code, err := s.registry.Invoke(ctx, cmd, payload.Arguments, options)
	if err != nil {
		return s.toolError(cmd.Name, err)
	}

	outcome := "ok"
	if code != 0 {
		outcome = "failed"
		s.sink.Logf("Tool %s exited with status %d", cmd.Name, code)
	}
	metrics.RecordMCPToolsCall(cmd.Name, outcome)
	return textResult(output, code != 0)
}

func (s *Server) toolError(tool string, err error) *CallToolResult {
	s.sink.Log("Error: " + err.Error())
	metrics.RecordMCPToolsCall(tool, "error")
	return textResult("Error executing tool: "+err.Error(), true)
}
