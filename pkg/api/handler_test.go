package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorwatch/proctor-platform/pkg/archive"
	"github.com/proctorwatch/proctor-platform/pkg/auth"
	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
	"github.com/proctorwatch/proctor-platform/pkg/classify"
	"github.com/proctorwatch/proctor-platform/pkg/ingest"
	"github.com/proctorwatch/proctor-platform/pkg/proctor"
	"github.com/proctorwatch/proctor-platform/pkg/results"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

const (
	apiTestExam     = "Operating Systems Midterm"
	apiTestStudent  = "student-7"
	apiTestUsername = "proctor-admin"
	apiTestPassword = "swordfish-123"
)

type apiFixture struct {
	handler  *Handler
	registry *session.MemoryRegistry
	hub      *broadcast.Hub
}

// focusedClassifier labels every frame as a focused observation.
func focusedClassifier(context.Context, classify.Frame) (classify.Observation, error) {
	return classify.Observation{FaceCount: 1, AttentionScore: 90}, nil
}

func newAPIFixture(t *testing.T, authMgr *auth.Manager) *apiFixture {
	t.Helper()

	registry := session.NewMemoryRegistry(nil)
	t.Cleanup(func() { _ = registry.Close() })

	hub := broadcast.NewHub(registry.List, 0, nil)
	hub.Start()
	t.Cleanup(func() { _ = hub.Close() })

	svc := proctor.NewService(registry, archive.Noop{}, hub, nil)
	pipeline := ingest.NewPipeline(registry, classify.Func(focusedClassifier), hub, nil)

	handler := NewHandler(HandlerConfig{
		Registry:   registry,
		Service:    svc,
		Pipeline:   pipeline,
		Aggregator: results.NewAggregator(registry),
		Hub:        hub,
		Archive:    archive.Noop{},
		Auth:       authMgr,
	})
	return &apiFixture{handler: handler, registry: registry, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(t *testing.T, students ...string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{
		Title:      apiTestExam,
		StudentIDs: students,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var snap session.SessionSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	require.NotEmpty(t, snap.ID)
	return snap.ID
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{
		Title:      apiTestExam,
		StudentIDs: []string{apiTestStudent},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var snap session.SessionSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, apiTestExam, snap.Exam.Title)
	assert.Contains(t, snap.Students, apiTestStudent)
	assert.Equal(t, session.SessionScheduled, snap.Status)
}

func TestCreateSessionRequiresTitle(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.createSession(t, apiTestStudent)
	f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []session.SessionSnapshot `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Sessions, 2)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttachStudent(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/attach", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap session.StudentSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, session.StatusConnecting, snap.Status)
}

func TestAttachUnknownSession(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/missing/students/"+apiTestStudent+"/attach", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFrame(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	require.Equal(t, http.StatusOK, rec.Code)

	var res ingest.SubmitResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, session.StatusFocused, res.Status)
	assert.False(t, res.Degraded)
}

func TestSubmitFrameUnknownStudent(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/ghost/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportViolation(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/violations",
		violationRequest{Kind: session.ViolationTabSwitch})
	require.Equal(t, http.StatusOK, rec.Code)

	student, err := f.registry.Student(id, apiTestStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, student.Counters.TabSwitch)
}

func TestReportViolationUnknownKind(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/violations",
		violationRequest{Kind: "sneezing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopStudentIsIdempotentOverHTTP(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	require.Equal(t, http.StatusOK, rec.Code)

	stop1 := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/stop", nil)
	require.Equal(t, http.StatusOK, stop1.Code)
	stop2 := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/stop", nil)
	require.Equal(t, http.StatusOK, stop2.Code)

	var first, second session.Results
	require.NoError(t, json.NewDecoder(stop1.Body).Decode(&first))
	require.NoError(t, json.NewDecoder(stop2.Body).Decode(&second))
	assert.Equal(t, first, second)
	assert.Equal(t, 90.0, first.AverageAttentionScore)
}

func TestStudentResultsMidSession(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res session.Results
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 90.0, res.AverageAttentionScore)
	assert.Equal(t, 1, res.TotalEvents)
	assert.Zero(t, res.SessionDurationSeconds)
}

func TestArchivedResultsEmpty(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.createSession(t, apiTestStudent)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func newAuthManager(t *testing.T) *auth.Manager {
	t.Helper()
	hash, err := auth.HashPassword(apiTestPassword)
	require.NoError(t, err)

	mgr, err := auth.NewManager(auth.Config{
		SigningKey:        "api-test-signing-key",
		AdminUsername:     apiTestUsername,
		AdminPasswordHash: hash,
	})
	require.NoError(t, err)
	return mgr
}

func TestLoginIssuesUsableToken(t *testing.T) {
	f := newAPIFixture(t, newAuthManager(t))

	// Admin routes reject anonymous callers.
	rec := f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/login", loginRequest{
		Username: apiTestUsername,
		Password: apiTestPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	authed := httptest.NewRecorder()
	f.handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newAPIFixture(t, newAuthManager(t))

	rec := f.do(t, http.MethodPost, "/api/v1/login", loginRequest{
		Username: apiTestUsername,
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStudentRoutesBypassAuth(t *testing.T) {
	f := newAPIFixture(t, newAuthManager(t))

	rec := f.do(t, http.MethodPost, "/api/v1/login", loginRequest{
		Username: apiTestUsername,
		Password: apiTestPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(createSessionRequest{
		Title:      apiTestExam,
		StudentIDs: []string{apiTestStudent},
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", &buf)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	created := httptest.NewRecorder()
	f.handler.ServeHTTP(created, req)
	require.Equal(t, http.StatusCreated, created.Code)

	var snap session.SessionSnapshot
	require.NoError(t, json.NewDecoder(created.Body).Decode(&snap))

	// Frame submission carries no credentials and must still work.
	rec = f.do(t, http.MethodPost,
		"/api/v1/sessions/"+snap.ID+"/students/"+apiTestStudent+"/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	assert.Equal(t, http.StatusOK, rec.Code)
}
