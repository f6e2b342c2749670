package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/psychebridge/psychebridge/internal/engine"
	appI18n "github.com/psychebridge/psychebridge/internal/i18n"
	"github.com/psychebridge/psychebridge/internal/model"
	"github.com/psychebridge/psychebridge/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine  *engine.Engine
	store   *store.Store
	catalog model.Catalog
	config  model.AppConfig
}

// New creates a new Handler.
func New(e *engine.Engine, s *store.Store, cat model.Catalog, cfg model.AppConfig) (*Handler, error) {
	return &Handler{engine: e, store: s, catalog: cat, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/users", h.handleListUsers)
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Get("/courses", h.handleListCourses)
		r.Get("/courses/{courseID}", h.handleGetCourse)
		r.Get("/progress", h.handleProgress)
		r.Get("/simulations", h.handleListSimulations)
		r.Get("/simulations/{sessionID}", h.handleGetSimulation)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Post("/courses/{courseID}/complete", h.handleCompleteCourse)
			r.Post("/simulations", h.handleStartSimulation)
			r.Post("/simulations/{sessionID}/turns", h.handleSubmitTurn)
			r.Post("/simulations/{sessionID}/end", h.handleEndSimulation)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStaff))
			r.Get("/review", h.handleReviewList)
			r.Post("/review/{sessionID}/briefing", h.handleBriefing)
			r.Post("/review/{sessionID}/evaluation", h.handleEvaluate)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError maps engine and validation errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
	case errors.Is(err, engine.ErrPrecondition), errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Courses)
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	course := h.catalog.CourseByID(chi.URLParam(r, "courseID"))
	if course == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (h *Handler) handleCompleteCourse(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	progress, err := h.engine.MarkCompleted(user.ID, chi.URLParam(r, "courseID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	studentID := user.ID
	if user.Role == model.UserRoleStaff {
		if q := r.URL.Query().Get("student_id"); q != "" {
			studentID = q
		}
	}
	writeJSON(w, http.StatusOK, h.engine.Progress(studentID))
}

type startSimulationRequest struct {
	CourseID string `json:"course_id"`
}

func (h *Handler) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	var req startSimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	user := model.UserFromContext(r.Context())
	sess, err := h.engine.StartSession(user.ID, req.CourseID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleStaff {
		writeJSON(w, http.StatusOK, h.engine.Sessions())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.SessionsForStudent(user.ID))
}

type simulationView struct {
	*model.SimulationSession
	Pending bool `json:"pending"`
}

func (h *Handler) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.engine.Session(sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleStaff && sess.StudentID != user.ID {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return
	}
	writeJSON(w, http.StatusOK, simulationView{SimulationSession: sess, Pending: h.engine.Pending(sessionID)})
}

type turnRequest struct {
	Message string `json:"message"`
}

func (h *Handler) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.requireOwnSession(r, sessionID); err != nil {
		writeOwnershipError(w, r, err)
		return
	}

	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	sess, err := h.engine.SubmitTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleEndSimulation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.requireOwnSession(r, sessionID); err != nil {
		writeOwnershipError(w, r, err)
		return
	}

	sess, err := h.engine.EndSession(sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

var errNotOwner = errors.New("session belongs to another student")

// requireOwnSession checks that the session exists and belongs to the requesting student.
func (h *Handler) requireOwnSession(r *http.Request, sessionID string) error {
	sess, err := h.engine.Session(sessionID)
	if err != nil {
		return err
	}
	user := model.UserFromContext(r.Context())
	if sess.StudentID != user.ID {
		return errNotOwner
	}
	return nil
}

func writeOwnershipError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNotOwner) {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return
	}
	writeEngineError(w, r, err)
}

func (h *Handler) handleReviewList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.PendingReview())
}

type briefingResponse struct {
	Briefing string `json:"briefing"`
}

func (h *Handler) handleBriefing(w http.ResponseWriter, r *http.Request) {
	briefing, err := h.engine.Briefing(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, briefingResponse{Briefing: briefing})
}

type evaluationRequest struct {
	Score        int      `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	user := model.UserFromContext(r.Context())
	eval, err := model.NewEvaluation(req.Score, req.Feedback, req.Strengths, req.Improvements, user.ID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	sess, err := h.engine.Evaluate(chi.URLParam(r, "sessionID"), eval)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
