package model

import "time"

// TrainingExport is the top-level JSON structure for session export.
type TrainingExport struct {
	Program    string          `json:"program"`
	ExportedAt time.Time       `json:"exported_at"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's simulation session data for export.
type StudentResult struct {
	StudentID     string          `json:"student_id"`
	StudentName   string          `json:"student_name"`
	SessionNumber int             `json:"session_number"`
	CourseID      string          `json:"course_id"`
	CourseTitle   string          `json:"course_title"`
	Scenario      string          `json:"scenario"`
	Status        SessionStatus   `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	Transcript    []TranscriptMsg `json:"transcript"`
	Evaluation    *Evaluation     `json:"evaluation,omitempty"`
}

// TranscriptMsg is a single message in an exported transcript.
type TranscriptMsg struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// BuildExport assembles export-ready results from the session collection,
// resolving names and titles against the catalog. Sessions are numbered per
// student in the order given (most recent first).
func BuildExport(program string, cat Catalog, sessions []SimulationSession) TrainingExport {
	studentSessionCount := make(map[string]int)

	var results []StudentResult
	for _, sess := range sessions {
		studentSessionCount[sess.StudentID]++

		var studentName string
		if u := cat.UserByID(sess.StudentID); u != nil {
			studentName = u.Name
		}
		var courseTitle, scenario string
		if c := cat.CourseByID(sess.CourseID); c != nil {
			courseTitle = c.Title
			scenario = c.PatientScenario
		}

		var transcript []TranscriptMsg
		for _, in := range sess.Transcript {
			transcript = append(transcript, TranscriptMsg{
				Role:    string(in.Role),
				Content: in.Content,
				At:      in.Timestamp,
			})
		}

		results = append(results, StudentResult{
			StudentID:     sess.StudentID,
			StudentName:   studentName,
			SessionNumber: studentSessionCount[sess.StudentID],
			CourseID:      sess.CourseID,
			CourseTitle:   courseTitle,
			Scenario:      scenario,
			Status:        sess.Status,
			StartedAt:     sess.StartTime,
			Transcript:    transcript,
			Evaluation:    sess.Evaluation,
		})
	}

	return TrainingExport{
		Program:    program,
		ExportedAt: time.Now(),
		Results:    results,
	}
}
