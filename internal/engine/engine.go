// Package engine owns the simulation session lifecycle: session creation,
// transcript append, turn-taking with the AI collaborator, completion and
// evaluation transitions, and course progress. All mutation of the
// process-wide session and progress collections goes through an Engine; the
// presentation layer only ever observes copies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psychebridge/psychebridge/internal/model"
)

var (
	// ErrNotFound means a referenced session, course, or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition means an action was attempted outside its valid state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrInvalidTransition means a status transition was attempted out of order.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Collaborator is the AI boundary the engine depends on. Both calls are
// potentially slow, single-shot, and never fail: implementations absorb
// internal errors into displayable fallback text.
type Collaborator interface {
	PatientReply(ctx context.Context, persona string, history []model.Interaction, message string) string
	SupervisorBriefing(ctx context.Context, transcript []model.Interaction) string
}

// Snapshot persists the full progress and session state. SaveState is called
// after every state-changing operation with the complete current state, not a
// delta; LoadState is called once at engine construction.
type Snapshot interface {
	SaveState(progress []model.StudentProgress, sessions []model.SimulationSession) error
	LoadState() (progress []model.StudentProgress, sessions []model.SimulationSession, found bool, err error)
}

// Engine holds the process-wide session and progress collections. A single
// mutex serializes all mutation; collaborator calls run outside the lock so
// reads and operations on other sessions proceed while a reply is in flight.
type Engine struct {
	catalog model.Catalog
	ai      Collaborator
	snap    Snapshot

	mu       sync.Mutex
	progress map[string]*model.StudentProgress
	sessions []*model.SimulationSession // most recent first
	byID     map[string]*model.SimulationSession
	pending  map[string]bool // session ID -> patient reply in flight
}

// New builds an engine over the given catalog, collaborator and snapshot
// store, restoring previously saved state if any.
func New(catalog model.Catalog, ai Collaborator, snap Snapshot) (*Engine, error) {
	e := &Engine{
		catalog:  catalog,
		ai:       ai,
		snap:     snap,
		progress: make(map[string]*model.StudentProgress),
		byID:     make(map[string]*model.SimulationSession),
		pending:  make(map[string]bool),
	}

	progress, sessions, found, err := snap.LoadState()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if found {
		for i := range progress {
			p := progress[i]
			e.progress[p.StudentID] = &p
		}
		for i := range sessions {
			s := sessions[i]
			e.sessions = append(e.sessions, &s)
			e.byID[s.ID] = &s
		}
		slog.Info("restored state", "students", len(progress), "sessions", len(sessions))
	}
	return e, nil
}

// MarkCompleted records that a student completed a course. Set semantics make
// this idempotent. The course must exist in the catalog.
func (e *Engine) MarkCompleted(studentID, courseID string) (*model.StudentProgress, error) {
	if e.catalog.CourseByID(courseID) == nil {
		return nil, fmt.Errorf("course %q: %w", courseID, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.progressLocked(studentID)
	if p.MarkCompleted(courseID) {
		e.persistLocked()
		slog.Info("course completed", "student_id", studentID, "course_id", courseID)
	}
	return p.Clone(), nil
}

// Progress returns the student's progress record, empty if none exists yet.
func (e *Engine) Progress(studentID string) *model.StudentProgress {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.progress[studentID]; ok {
		return p.Clone()
	}
	return &model.StudentProgress{StudentID: studentID}
}

// StartSession creates a new active session for an unlocked course. The
// unlock precondition is enforced here, not left to the caller: starting a
// simulation for a course the student has not completed fails.
func (e *Engine) StartSession(studentID, courseID string) (*model.SimulationSession, error) {
	if e.catalog.CourseByID(courseID) == nil {
		return nil, fmt.Errorf("course %q: %w", courseID, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.progressLocked(studentID).Completed(courseID) {
		return nil, fmt.Errorf("course %q not completed by student %q: %w", courseID, studentID, ErrPrecondition)
	}

	sess := &model.SimulationSession{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		Status:    model.StatusActive,
		StartTime: time.Now(),
	}
	// Most-recent-first ordering for listings.
	e.sessions = append([]*model.SimulationSession{sess}, e.sessions...)
	e.byID[sess.ID] = sess
	e.persistLocked()

	slog.Info("session started", "session_id", sess.ID, "student_id", studentID, "course_id", courseID)
	return sess.Clone(), nil
}

// SubmitTurn appends the student's message to the transcript, obtains the
// simulated patient's reply from the collaborator, and appends it. The student
// entry is visible immediately; the reply-pending flag is observable through
// Pending until the reply lands. At most one reply may be in flight per
// session. If the session leaves active while the reply is in flight, the
// stale reply is dropped.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, text string) (*model.SimulationSession, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &model.ValidationError{Field: "message", Reason: "required"}
	}

	e.mu.Lock()
	sess, ok := e.byID[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if sess.Status != model.StatusActive {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %q is %s, transcript is frozen: %w", sessionID, sess.Status, ErrPrecondition)
	}
	if e.pending[sessionID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %q already has a reply in flight: %w", sessionID, ErrPrecondition)
	}

	// The collaborator sees the transcript as it was before this turn.
	history := sess.Clone().Transcript
	persona := ""
	if c := e.catalog.CourseByID(sess.CourseID); c != nil {
		persona = c.PatientBio
	}

	sess.Transcript = append(sess.Transcript, model.Interaction{
		Role:      model.RoleStudent,
		Content:   text,
		Timestamp: time.Now(),
	})
	e.pending[sessionID] = true
	e.persistLocked()
	e.mu.Unlock()

	reply := e.ai.PatientReply(ctx, persona, history, text)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, sessionID)

	if sess.Status != model.StatusActive {
		// The session was ended while the reply was in flight.
		slog.Warn("dropping stale patient reply", "session_id", sessionID, "status", sess.Status)
		return sess.Clone(), nil
	}

	sess.Transcript = append(sess.Transcript, model.Interaction{
		Role:      model.RolePatient,
		Content:   reply,
		Timestamp: time.Now(),
	})
	e.persistLocked()
	return sess.Clone(), nil
}

// EndSession moves an active session to completed. The transcript is frozen
// from this point; any in-flight patient reply will be dropped when it lands.
func (e *Engine) EndSession(sessionID string) (*model.SimulationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if sess.Status != model.StatusActive {
		return nil, fmt.Errorf("end session: status is %s: %w", sess.Status, ErrInvalidTransition)
	}

	sess.Status = model.StatusCompleted
	e.persistLocked()

	slog.Info("session completed", "session_id", sessionID, "turns", len(sess.Transcript))
	return sess.Clone(), nil
}

// Evaluate moves a completed session to evaluated, attaching the evaluation.
// An evaluation is created exactly once per session; re-evaluating or
// evaluating an active session fails.
func (e *Engine) Evaluate(sessionID string, eval model.Evaluation) (*model.SimulationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if sess.Status != model.StatusCompleted {
		return nil, fmt.Errorf("evaluate: status is %s, want %s: %w", sess.Status, model.StatusCompleted, ErrInvalidTransition)
	}

	ev := eval.Clone()
	sess.Evaluation = &ev
	sess.Status = model.StatusEvaluated
	e.persistLocked()

	slog.Info("session evaluated", "session_id", sessionID, "staff_id", eval.StaffID, "score", eval.Score)
	return sess.Clone(), nil
}

// Briefing generates a supervisor briefing for a session under review. The
// session must have left active state.
func (e *Engine) Briefing(ctx context.Context, sessionID string) (string, error) {
	e.mu.Lock()
	sess, ok := e.byID[sessionID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if sess.Status == model.StatusActive {
		e.mu.Unlock()
		return "", fmt.Errorf("session %q is still active: %w", sessionID, ErrPrecondition)
	}
	transcript := sess.Clone().Transcript
	e.mu.Unlock()

	return e.ai.SupervisorBriefing(ctx, transcript), nil
}

// Session returns a copy of the session with the given ID.
func (e *Engine) Session(sessionID string) (*model.SimulationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return sess.Clone(), nil
}

// Sessions returns copies of all sessions, most recent first.
func (e *Engine) Sessions() []*model.SimulationSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cloneAllLocked(func(*model.SimulationSession) bool { return true })
}

// SessionsForStudent returns copies of the student's sessions, most recent first.
func (e *Engine) SessionsForStudent(studentID string) []*model.SimulationSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cloneAllLocked(func(s *model.SimulationSession) bool { return s.StudentID == studentID })
}

// PendingReview returns copies of all completed sessions awaiting evaluation.
func (e *Engine) PendingReview() []*model.SimulationSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cloneAllLocked(func(s *model.SimulationSession) bool { return s.Status == model.StatusCompleted })
}

// Pending reports whether a patient reply is in flight for the session.
func (e *Engine) Pending(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[sessionID]
}

func (e *Engine) cloneAllLocked(keep func(*model.SimulationSession) bool) []*model.SimulationSession {
	var out []*model.SimulationSession
	for _, s := range e.sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (e *Engine) progressLocked(studentID string) *model.StudentProgress {
	p, ok := e.progress[studentID]
	if !ok {
		p = &model.StudentProgress{StudentID: studentID}
		e.progress[studentID] = p
	}
	return p
}

// persistLocked mirrors the full in-memory state to the snapshot store.
// Save failures are logged, not propagated: the in-memory state stays
// authoritative for the running process.
func (e *Engine) persistLocked() {
	progress := make([]model.StudentProgress, 0, len(e.progress))
	for _, p := range e.progress {
		progress = append(progress, *p.Clone())
	}
	sessions := make([]model.SimulationSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, *s.Clone())
	}
	if err := e.snap.SaveState(progress, sessions); err != nil {
		slog.Error("failed to save state", "error", err)
	}
}
