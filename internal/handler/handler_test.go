package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/psychebridge/psychebridge/internal/engine"
	"github.com/psychebridge/psychebridge/internal/handler"
	appI18n "github.com/psychebridge/psychebridge/internal/i18n"
	"github.com/psychebridge/psychebridge/internal/model"
	"github.com/psychebridge/psychebridge/internal/store"
)

type scriptedCollaborator struct {
	reply    string
	briefing string
}

func (c *scriptedCollaborator) PatientReply(_ context.Context, _ string, _ []model.Interaction, _ string) string {
	return c.reply
}

func (c *scriptedCollaborator) SupervisorBriefing(_ context.Context, _ []model.Interaction) string {
	return c.briefing
}

type memorySnapshot struct {
	progress []model.StudentProgress
	sessions []model.SimulationSession
	saved    bool
}

func (m *memorySnapshot) SaveState(progress []model.StudentProgress, sessions []model.SimulationSession) error {
	m.progress = progress
	m.sessions = sessions
	m.saved = true
	return nil
}

func (m *memorySnapshot) LoadState() ([]model.StudentProgress, []model.SimulationSession, bool, error) {
	return m.progress, m.sessions, m.saved, nil
}

func testCatalog() model.Catalog {
	return model.Catalog{
		Users: []model.User{
			{ID: "u-1", Name: "Dr. Sarah Mitchell", Role: model.UserRoleStaff},
			{ID: "u-2", Name: "Kevin Zhang", Role: model.UserRoleStudent},
			{ID: "u-3", Name: "Priya Nair", Role: model.UserRoleStudent},
		},
		Courses: []model.Course{
			{
				ID:              "cbt-101",
				Title:           "CBT Foundations",
				Modules:         []string{"Intro", "Cognitive Distortions"},
				PatientScenario: "Anxious college student",
				PatientBio:      "Alex, 20, first panic attack last month.",
			},
		},
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cat := testCatalog()
	eng, err := engine.New(cat, &scriptedCollaborator{reply: "I feel anxious.", briefing: "The student built rapport."}, &memorySnapshot{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	h, err := handler.New(eng, s, cat, model.AppConfig{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return r
}

// testClient carries cookies across requests and replays the rotating
// CSRF token as a header the way a browser client would.
type testClient struct {
	t       *testing.T
	srv     http.Handler
	cookies map[string]string
}

func newTestClient(t *testing.T, srv http.Handler) *testClient {
	return &testClient{t: t, srv: srv, cookies: map[string]string{}}
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if token, ok := c.cookies["csrf_token"]; ok {
		req.Header.Set("X-CSRF-Token", token)
	}

	w := httptest.NewRecorder()
	c.srv.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	return w
}

func (c *testClient) login(userID string) {
	c.t.Helper()
	w := c.do(http.MethodPost, "/login", map[string]string{"user_id": userID})
	if w.Code != http.StatusOK {
		c.t.Fatalf("login %s: got %d, body=%s", userID, w.Code, w.Body.String())
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	w := c.do(http.MethodPost, "/login", map[string]string{"user_id": "nobody"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestFullTrainingFlow(t *testing.T) {
	srv := newTestServer(t)

	student := newTestClient(t, srv)
	student.login("u-2")

	w := student.do(http.MethodGet, "/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: got %d", w.Code)
	}
	me := decodeBody[model.User](t, w)
	if me.ID != "u-2" {
		t.Fatalf("me.ID = %q", me.ID)
	}

	// Completing the course unlocks the simulation.
	w = student.do(http.MethodPost, "/courses/cbt-101/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: got %d, body=%s", w.Code, w.Body.String())
	}

	w = student.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: got %d, body=%s", w.Code, w.Body.String())
	}
	sess := decodeBody[model.SimulationSession](t, w)
	if sess.Status != model.StatusActive {
		t.Fatalf("status = %q", sess.Status)
	}

	w = student.do(http.MethodPost, "/simulations/"+sess.ID+"/turns", map[string]string{"message": "Hello, I'm glad you came in today."})
	if w.Code != http.StatusOK {
		t.Fatalf("turn: got %d, body=%s", w.Code, w.Body.String())
	}
	sess = decodeBody[model.SimulationSession](t, w)
	if len(sess.Transcript) != 2 {
		t.Fatalf("transcript entries = %d", len(sess.Transcript))
	}
	if sess.Transcript[1].Role != model.RolePatient || sess.Transcript[1].Content != "I feel anxious." {
		t.Errorf("patient entry = %+v", sess.Transcript[1])
	}

	w = student.do(http.MethodPost, "/simulations/"+sess.ID+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: got %d", w.Code)
	}
	sess = decodeBody[model.SimulationSession](t, w)
	if sess.Status != model.StatusCompleted {
		t.Fatalf("status after end = %q", sess.Status)
	}

	staff := newTestClient(t, srv)
	staff.login("u-1")

	w = staff.do(http.MethodGet, "/review", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("review: got %d", w.Code)
	}
	pending := decodeBody[[]model.SimulationSession](t, w)
	if len(pending) != 1 || pending[0].ID != sess.ID {
		t.Fatalf("pending review = %+v", pending)
	}

	w = staff.do(http.MethodPost, "/review/"+sess.ID+"/briefing", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("briefing: got %d, body=%s", w.Code, w.Body.String())
	}
	briefing := decodeBody[map[string]string](t, w)
	if briefing["briefing"] != "The student built rapport." {
		t.Errorf("briefing = %q", briefing["briefing"])
	}

	w = staff.do(http.MethodPost, "/review/"+sess.ID+"/evaluation", map[string]any{
		"score":        88,
		"feedback":     "Strong opening, good reflective listening.",
		"strengths":    []string{"rapport"},
		"improvements": []string{"pacing"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("evaluation: got %d, body=%s", w.Code, w.Body.String())
	}
	sess = decodeBody[model.SimulationSession](t, w)
	if sess.Status != model.StatusEvaluated {
		t.Fatalf("status after evaluation = %q", sess.Status)
	}
	if sess.Evaluation == nil || sess.Evaluation.Score != 88 || sess.Evaluation.StaffID != "u-1" {
		t.Fatalf("evaluation = %+v", sess.Evaluation)
	}

	// The student sees the evaluation on their own session.
	w = student.do(http.MethodGet, "/simulations/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get simulation: got %d", w.Code)
	}
	view := decodeBody[struct {
		model.SimulationSession
		Pending bool `json:"pending"`
	}](t, w)
	if view.Evaluation == nil || view.Evaluation.Score != 88 {
		t.Errorf("student view evaluation = %+v", view.Evaluation)
	}
	if view.Pending {
		t.Error("expected pending=false")
	}
}

func TestStartSimulationLockedCourse(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	c.login("u-2")

	w := c.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestGetUnknownSimulation(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	c.login("u-2")

	w := c.do(http.MethodGet, "/simulations/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv := newTestServer(t)

	student := newTestClient(t, srv)
	student.login("u-2")
	if w := student.do(http.MethodGet, "/review", nil); w.Code != http.StatusForbidden {
		t.Errorf("student /review: expected 403, got %d", w.Code)
	}

	staff := newTestClient(t, srv)
	staff.login("u-1")
	if w := staff.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"}); w.Code != http.StatusForbidden {
		t.Errorf("staff start simulation: expected 403, got %d", w.Code)
	}
}

func TestSessionOwnership(t *testing.T) {
	srv := newTestServer(t)

	owner := newTestClient(t, srv)
	owner.login("u-2")
	owner.do(http.MethodPost, "/courses/cbt-101/complete", nil)
	w := owner.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: got %d", w.Code)
	}
	sess := decodeBody[model.SimulationSession](t, w)

	other := newTestClient(t, srv)
	other.login("u-3")
	if w := other.do(http.MethodGet, "/simulations/"+sess.ID, nil); w.Code != http.StatusForbidden {
		t.Errorf("other student view: expected 403, got %d", w.Code)
	}
	if w := other.do(http.MethodPost, "/simulations/"+sess.ID+"/end", nil); w.Code != http.StatusForbidden {
		t.Errorf("other student end: expected 403, got %d", w.Code)
	}

	// Staff may inspect any session.
	staff := newTestClient(t, srv)
	staff.login("u-1")
	if w := staff.do(http.MethodGet, "/simulations/"+sess.ID, nil); w.Code != http.StatusOK {
		t.Errorf("staff view: expected 200, got %d", w.Code)
	}
}

func TestEvaluationValidation(t *testing.T) {
	srv := newTestServer(t)

	student := newTestClient(t, srv)
	student.login("u-2")
	student.do(http.MethodPost, "/courses/cbt-101/complete", nil)
	w := student.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	sess := decodeBody[model.SimulationSession](t, w)
	student.do(http.MethodPost, "/simulations/"+sess.ID+"/end", nil)

	staff := newTestClient(t, srv)
	staff.login("u-1")

	w = staff.do(http.MethodPost, "/review/"+sess.ID+"/evaluation", map[string]any{
		"score":    150,
		"feedback": "Off the scale.",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestEvaluateActiveSessionRejected(t *testing.T) {
	srv := newTestServer(t)

	student := newTestClient(t, srv)
	student.login("u-2")
	student.do(http.MethodPost, "/courses/cbt-101/complete", nil)
	w := student.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	sess := decodeBody[model.SimulationSession](t, w)

	staff := newTestClient(t, srv)
	staff.login("u-1")

	w = staff.do(http.MethodPost, "/review/"+sess.ID+"/evaluation", map[string]any{
		"score":    75,
		"feedback": "Too early.",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCSRFRequired(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	c.login("u-2")

	// Replay the session cookie but no CSRF material.
	req := httptest.NewRequest(http.MethodPost, "/courses/cbt-101/complete", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: c.cookies["session"]})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestSubmitTurnEmptyMessage(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	c.login("u-2")
	c.do(http.MethodPost, "/courses/cbt-101/complete", nil)
	w := c.do(http.MethodPost, "/simulations", map[string]string{"course_id": "cbt-101"})
	sess := decodeBody[model.SimulationSession](t, w)

	w = c.do(http.MethodPost, "/simulations/"+sess.ID+"/turns", map[string]string{"message": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", w.Code, w.Body.String())
	}
}
