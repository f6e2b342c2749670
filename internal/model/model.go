package model

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// UserRole represents a user's access level (distinct from Role which is transcript speaker roles).
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "STUDENT"
	// UserRoleStaff is a clinical staff user role.
	UserRoleStaff UserRole = "STAFF"
)

// User represents a catalog user. The user catalog is fixed reference data;
// users are never created or destroyed at runtime.
type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      UserRole `json:"role"`
	AvatarRef string   `json:"avatar_ref"`
}

// Course is a static catalog entry. PatientBio is the persona text fed to the
// AI collaborator when a simulation for this course runs.
type Course struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Modules         []string `json:"modules"`
	PatientScenario string   `json:"patient_scenario"`
	PatientBio      string   `json:"patient_bio"`
}

// Role represents a transcript speaker role.
type Role string

const (
	RoleStudent Role = "student"
	RolePatient Role = "patient"
)

// Interaction is a single transcript entry. Immutable once created; entries
// are appended, never edited or removed. Append order is authoritative, the
// timestamp is informational.
type Interaction struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus represents the status of a simulation session.
// Status only advances forward: active, completed, evaluated.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusEvaluated SessionStatus = "evaluated"
)

// SimulationSession is one continuous simulated patient conversation tied to
// one student and one course. Evaluation is present iff Status is evaluated;
// the transcript is frozen once the session leaves active.
type SimulationSession struct {
	ID         string        `json:"id"`
	StudentID  string        `json:"student_id"`
	CourseID   string        `json:"course_id"`
	Transcript []Interaction `json:"transcript"`
	Status     SessionStatus `json:"status"`
	Evaluation *Evaluation   `json:"evaluation,omitempty"`
	StartTime  time.Time     `json:"start_time"`
}

// Clone returns a deep copy of the session.
func (s *SimulationSession) Clone() *SimulationSession {
	c := *s
	c.Transcript = slices.Clone(s.Transcript)
	if s.Evaluation != nil {
		ev := s.Evaluation.Clone()
		c.Evaluation = &ev
	}
	return &c
}

// Evaluation is a staff assessment of a completed session. Created exactly
// once per session, at the completed to evaluated transition; immutable
// thereafter.
type Evaluation struct {
	Score        int       `json:"score"`
	Feedback     string    `json:"feedback"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
	StaffID      string    `json:"staff_id"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Clone returns a deep copy of the evaluation.
func (e Evaluation) Clone() Evaluation {
	c := e
	c.Strengths = slices.Clone(e.Strengths)
	c.Improvements = slices.Clone(e.Improvements)
	return c
}

// NewEvaluation validates the raw evaluation fields and builds an Evaluation
// stamped with the current time. Score must be within 0-100 and feedback must
// be non-empty after trimming.
func NewEvaluation(score int, feedback string, strengths, improvements []string, staffID string) (Evaluation, error) {
	if score < 0 || score > 100 {
		return Evaluation{}, &ValidationError{Field: "score", Reason: fmt.Sprintf("must be between 0 and 100, got %d", score)}
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return Evaluation{}, &ValidationError{Field: "feedback", Reason: "required"}
	}
	if staffID == "" {
		return Evaluation{}, &ValidationError{Field: "staff_id", Reason: "required"}
	}
	return Evaluation{
		Score:        score,
		Feedback:     feedback,
		Strengths:    trimAll(strengths),
		Improvements: trimAll(improvements),
		StaffID:      staffID,
		EvaluatedAt:  time.Now(),
	}, nil
}

func trimAll(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// ValidationError reports a rejected field in a user-supplied payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// StudentProgress tracks which courses a student has completed. One record per
// student, created with an empty set on first use.
type StudentProgress struct {
	StudentID          string   `json:"student_id"`
	CompletedCourseIDs []string `json:"completed_course_ids"`
}

// Completed reports whether the student has completed the given course.
func (p *StudentProgress) Completed(courseID string) bool {
	return slices.Contains(p.CompletedCourseIDs, courseID)
}

// MarkCompleted adds a course to the completed set. Idempotent: adding an
// already-present ID is a no-op and returns false.
func (p *StudentProgress) MarkCompleted(courseID string) bool {
	if p.Completed(courseID) {
		return false
	}
	p.CompletedCourseIDs = append(p.CompletedCourseIDs, courseID)
	return true
}

// Clone returns a deep copy of the progress record.
func (p *StudentProgress) Clone() *StudentProgress {
	c := *p
	c.CompletedCourseIDs = slices.Clone(p.CompletedCourseIDs)
	return &c
}

// Catalog holds the fixed reference data loaded at startup.
type Catalog struct {
	Users   []User
	Courses []Course
}

// UserByID returns the catalog user with the given ID, or nil.
func (c Catalog) UserByID(id string) *User {
	for i := range c.Users {
		if c.Users[i].ID == id {
			return &c.Users[i]
		}
	}
	return nil
}

// CourseByID returns the catalog course with the given ID, or nil.
func (c Catalog) CourseByID(id string) *Course {
	for i := range c.Courses {
		if c.Courses[i].ID == id {
			return &c.Courses[i]
		}
	}
	return nil
}

// LoginSession represents a role-selection login session.
type LoginSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	SecureCookies bool // Set Secure flag on cookies (disable for local dev)
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the logged-in user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
