package platform

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Info describes the platform deployment for MCP clients.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Sessions int      `json:"sessions"`
	Features Features `json:"features"`
}

// Features describes enabled platform features.
type Features struct {
	Archive bool `json:"archive"`
	Auth    bool `json:"auth"`
	MCP     bool `json:"mcp"`
}

// proctorInfoInput is empty since this tool has no parameters.
type proctorInfoInput struct{}

// registerInfoTool registers the proctor_info tool with the MCP server.
func (p *Platform) registerInfoTool() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name: "proctor_info",
		Description: "Get information about this exam proctoring platform, including " +
			"active session count and enabled features. Call this first to understand " +
			"what is available.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ proctorInfoInput) (*mcp.CallToolResult, any, error) {
		return p.handleInfo(ctx, req)
	})
}

func (p *Platform) handleInfo(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, any, error) {
	info := Info{
		Name:     p.config.Server.Name,
		Version:  p.config.Server.Version,
		Sessions: len(p.registry.List()),
		Features: Features{
			Archive: p.db != nil,
			Auth:    p.authMgr.Enabled(),
			MCP:     true,
		},
	}
	return jsonResult(info)
}

// sessionsInput selects one session, or all of them when empty.
type sessionsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"optional session ID; omit to list every session"`
}

// registerSessionsTool registers the proctor_sessions tool.
func (p *Platform) registerSessionsTool() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name: "proctor_sessions",
		Description: "Inspect exam sessions: per-student proctoring status, violation " +
			"counters, and rolling attention averages. Pass session_id for one session " +
			"or omit it to list all.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in sessionsInput) (*mcp.CallToolResult, any, error) {
		return p.handleSessions(in)
	})
}

func (p *Platform) handleSessions(in sessionsInput) (*mcp.CallToolResult, any, error) {
	if in.SessionID == "" {
		return jsonResult(map[string]any{"sessions": p.registry.List()})
	}
	snap, err := p.registry.Get(in.SessionID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(snap)
}

// resultsInput identifies one student within a session.
type resultsInput struct {
	SessionID string `json:"session_id" jsonschema:"the exam session ID"`
	StudentID string `json:"student_id" jsonschema:"the student ID within the session"`
}

// registerResultsTool registers the proctor_student_results tool.
func (p *Platform) registerResultsTool() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name: "proctor_student_results",
		Description: "Get the proctoring results for one student: average attention " +
			"score, violation counts, total events, and exam duration. Results are " +
			"partial while the student is still being monitored and final once stopped.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in resultsInput) (*mcp.CallToolResult, any, error) {
		return p.handleStudentResults(in)
	})
}

func (p *Platform) handleStudentResults(in resultsInput) (*mcp.CallToolResult, any, error) {
	res, err := p.aggregator.Summarize(in.SessionID, in.StudentID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(struct {
		SessionID string `json:"session_id"`
		StudentID string `json:"student_id"`
		session.Results
	}{in.SessionID, in.StudentID, res})
}

// jsonResult renders a value as pretty JSON tool output.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// errorResult reports a tool error inside the result, per MCP convention.
func errorResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + err.Error()},
		},
		IsError: true,
	}, nil, nil
}
