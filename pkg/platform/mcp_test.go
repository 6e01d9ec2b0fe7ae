package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// toolText extracts the text payload from a tool result.
func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func newMCPPlatform(t *testing.T) *Platform {
	t.Helper()
	return newTestPlatform(t, func(cfg *Config) {
		cfg.MCP.Enabled = true
	})
}

func TestHandleInfo(t *testing.T) {
	p := newMCPPlatform(t)

	_, err := p.service.Start(session.ExamMeta{Title: "Biology Quiz"}, []string{"student-1"})
	require.NoError(t, err)

	result, _, err := p.handleInfo(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var info Info
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &info))
	assert.Equal(t, "proctor-platform", info.Name)
	assert.Equal(t, 1, info.Sessions)
	assert.True(t, info.Features.MCP)
	assert.False(t, info.Features.Archive)
}

func TestHandleSessionsListsAll(t *testing.T) {
	p := newMCPPlatform(t)

	_, err := p.service.Start(session.ExamMeta{Title: "Biology Quiz"}, []string{"student-1"})
	require.NoError(t, err)

	result, _, err := p.handleSessions(sessionsInput{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Sessions []session.SessionSnapshot `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Len(t, out.Sessions, 1)
}

func TestHandleSessionsByID(t *testing.T) {
	p := newMCPPlatform(t)

	snap, err := p.service.Start(session.ExamMeta{Title: "Biology Quiz"}, []string{"student-1"})
	require.NoError(t, err)

	result, _, err := p.handleSessions(sessionsInput{SessionID: snap.ID})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, toolText(t, result), snap.ID)

	missing, _, err := p.handleSessions(sessionsInput{SessionID: "missing"})
	require.NoError(t, err)
	assert.True(t, missing.IsError)
}

func TestHandleStudentResults(t *testing.T) {
	p := newMCPPlatform(t)

	snap, err := p.service.Start(session.ExamMeta{Title: "Biology Quiz"}, []string{"student-1"})
	require.NoError(t, err)

	result, _, err := p.handleStudentResults(resultsInput{SessionID: snap.ID, StudentID: "student-1"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		SessionID string `json:"session_id"`
		StudentID string `json:"student_id"`
		session.Results
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Equal(t, snap.ID, out.SessionID)
	assert.Zero(t, out.TotalEvents)

	unknown, _, err := p.handleStudentResults(resultsInput{SessionID: snap.ID, StudentID: "ghost"})
	require.NoError(t, err)
	assert.True(t, unknown.IsError)
}
