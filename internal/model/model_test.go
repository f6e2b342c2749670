package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewEvaluation(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		feedback  string
		staffID   string
		wantField string
	}{
		{"valid", 90, "Good rapport", "u-1", ""},
		{"score too low", -1, "ok", "u-1", "score"},
		{"score too high", 101, "ok", "u-1", "score"},
		{"boundary low", 0, "ok", "u-1", ""},
		{"boundary high", 100, "ok", "u-1", ""},
		{"empty feedback", 50, "", "u-1", "feedback"},
		{"whitespace feedback", 50, "   \n", "u-1", "feedback"},
		{"missing staff", 50, "ok", "", "staff_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewEvaluation(tt.score, tt.feedback, nil, nil, tt.staffID)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("NewEvaluation: %v", err)
				}
				if ev.Score != tt.score {
					t.Errorf("score = %d, want %d", ev.Score, tt.score)
				}
				if ev.EvaluatedAt.IsZero() {
					t.Error("expected EvaluatedAt to be stamped")
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestNewEvaluationTrimsLists(t *testing.T) {
	ev, err := NewEvaluation(85, "solid", []string{" listening ", "", "empathy"}, []string{"  "}, "u-1")
	if err != nil {
		t.Fatalf("NewEvaluation: %v", err)
	}
	if len(ev.Strengths) != 2 || ev.Strengths[0] != "listening" || ev.Strengths[1] != "empathy" {
		t.Errorf("strengths = %v", ev.Strengths)
	}
	if len(ev.Improvements) != 0 {
		t.Errorf("improvements = %v, want empty", ev.Improvements)
	}
}

func TestProgressMarkCompletedIdempotent(t *testing.T) {
	p := &StudentProgress{StudentID: "u-2"}

	if !p.MarkCompleted("cbt-101") {
		t.Error("first MarkCompleted should report change")
	}
	if p.MarkCompleted("cbt-101") {
		t.Error("second MarkCompleted should be a no-op")
	}
	if len(p.CompletedCourseIDs) != 1 {
		t.Fatalf("expected 1 completed course, got %d", len(p.CompletedCourseIDs))
	}
	if !p.Completed("cbt-101") {
		t.Error("Completed should report true")
	}
	if p.Completed("mi-202") {
		t.Error("Completed should report false for unknown course")
	}
}

func TestSessionClone(t *testing.T) {
	ev := Evaluation{Score: 80, Feedback: "fine", Strengths: []string{"a"}}
	s := &SimulationSession{
		ID:         "sess-1",
		Status:     StatusEvaluated,
		Transcript: []Interaction{{Role: RoleStudent, Content: "hi", Timestamp: time.Now()}},
		Evaluation: &ev,
	}

	c := s.Clone()
	c.Transcript[0].Content = "changed"
	c.Evaluation.Strengths[0] = "changed"

	if s.Transcript[0].Content != "hi" {
		t.Error("clone shares transcript backing array")
	}
	if s.Evaluation.Strengths[0] != "a" {
		t.Error("clone shares evaluation lists")
	}
}

func TestBuildExport(t *testing.T) {
	cat := Catalog{
		Users:   []User{{ID: "u-2", Name: "Kevin Zhang", Role: UserRoleStudent}},
		Courses: []Course{{ID: "cbt-101", Title: "CBT Foundations", PatientScenario: "Anxiety and Work Stress"}},
	}
	sessions := []SimulationSession{
		{ID: "s2", StudentID: "u-2", CourseID: "cbt-101", Status: StatusCompleted},
		{ID: "s1", StudentID: "u-2", CourseID: "cbt-101", Status: StatusEvaluated,
			Transcript: []Interaction{{Role: RoleStudent, Content: "hello"}},
			Evaluation: &Evaluation{Score: 90, Feedback: "good"}},
	}

	export := BuildExport("fall-2024", cat, sessions)
	if export.Program != "fall-2024" {
		t.Errorf("program = %q", export.Program)
	}
	if len(export.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(export.Results))
	}
	if export.Results[0].SessionNumber != 1 || export.Results[1].SessionNumber != 2 {
		t.Errorf("session numbers = %d, %d", export.Results[0].SessionNumber, export.Results[1].SessionNumber)
	}
	if export.Results[0].StudentName != "Kevin Zhang" {
		t.Errorf("student name = %q", export.Results[0].StudentName)
	}
	if export.Results[0].CourseTitle != "CBT Foundations" {
		t.Errorf("course title = %q", export.Results[0].CourseTitle)
	}
	r := export.Results[1]
	if len(r.Transcript) != 1 || r.Transcript[0].Content != "hello" {
		t.Errorf("transcript = %v", r.Transcript)
	}
	if r.Evaluation == nil || r.Evaluation.Score != 90 {
		t.Error("expected evaluation with score 90")
	}
}
