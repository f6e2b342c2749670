package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/psychebridge/psychebridge/internal/model"

	_ "modernc.org/sqlite"
)

// schemaVersion tags the stored layout. A mismatch on open refuses the
// database instead of silently misreading it.
const schemaVersion = "1"

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		avatar_ref TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		modules TEXT NOT NULL DEFAULT '[]',
		patient_scenario TEXT NOT NULL DEFAULT '',
		patient_bio TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS login_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	stored, err := s.GetMetadata("schema_version")
	if err != nil {
		return err
	}
	switch stored {
	case "":
		return s.SetMetadata("schema_version", schemaVersion)
	case schemaVersion:
		return nil
	default:
		return fmt.Errorf("schema version %q is not supported (want %q)", stored, schemaVersion)
	}
}

// UpsertCourse stores a catalog course, replacing an existing entry.
func (s *Store) UpsertCourse(c model.Course) error {
	modules, err := json.Marshal(c.Modules)
	if err != nil {
		return fmt.Errorf("marshal modules: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO courses (id, title, description, modules, patient_scenario, patient_bio)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   modules = excluded.modules,
		   patient_scenario = excluded.patient_scenario,
		   patient_bio = excluded.patient_bio`,
		c.ID, c.Title, c.Description, string(modules), c.PatientScenario, c.PatientBio,
	)
	return err
}

// GetCourse returns a course by ID.
func (s *Store) GetCourse(id string) (model.Course, error) {
	var c model.Course
	var modules string
	err := s.db.QueryRow(
		`SELECT id, title, description, modules, patient_scenario, patient_bio FROM courses WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Description, &modules, &c.PatientScenario, &c.PatientBio)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(modules), &c.Modules); err != nil {
		return c, fmt.Errorf("unmarshal modules for course %s: %w", id, err)
	}
	return c, nil
}

// ListCourses returns all catalog courses ordered by ID.
func (s *Store) ListCourses() ([]model.Course, error) {
	rows, err := s.db.Query(`SELECT id, title, description, modules, patient_scenario, patient_bio FROM courses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var courses []model.Course
	for rows.Next() {
		var c model.Course
		var modules string
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &modules, &c.PatientScenario, &c.PatientBio); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(modules), &c.Modules); err != nil {
			return nil, fmt.Errorf("unmarshal modules for course %s: %w", c.ID, err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// CourseCount returns the number of catalog courses.
func (s *Store) CourseCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM courses`).Scan(&count)
	return count, err
}

// LoadCatalog reads the full user and course catalog.
func (s *Store) LoadCatalog() (model.Catalog, error) {
	users, err := s.ListUsers()
	if err != nil {
		return model.Catalog{}, fmt.Errorf("list users: %w", err)
	}
	courses, err := s.ListCourses()
	if err != nil {
		return model.Catalog{}, fmt.Errorf("list courses: %w", err)
	}
	return model.Catalog{Users: users, Courses: courses}, nil
}
