package store

import (
	"encoding/json"
	"fmt"

	"github.com/psychebridge/psychebridge/internal/model"
)

// The full progress and session state is mirrored into two JSON blobs under
// fixed metadata keys, tagged with a state schema version. Every save writes
// the whole state, not a delta; load happens once at process start.
const (
	stateSchemaVersion = "1"
	keyStateSchema     = "state_schema"
	keyProgress        = "progress"
	keySessions        = "sessions"
)

// SaveState serializes the complete current state and writes it atomically.
func (s *Store) SaveState(progress []model.StudentProgress, sessions []model.SimulationSession) error {
	progressBlob, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	sessionsBlob, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `INSERT INTO app_metadata (key, value) VALUES (?, ?)
	           ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	for _, kv := range []struct{ k, v string }{
		{keyStateSchema, stateSchemaVersion},
		{keyProgress, string(progressBlob)},
		{keySessions, string(sessionsBlob)},
	} {
		if _, err := tx.Exec(upsert, kv.k, kv.v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadState reads back the stored state. found is false when no state was
// ever saved; a schema version mismatch is an error, not a silent reset.
func (s *Store) LoadState() (progress []model.StudentProgress, sessions []model.SimulationSession, found bool, err error) {
	version, err := s.GetMetadata(keyStateSchema)
	if err != nil {
		return nil, nil, false, err
	}
	if version == "" {
		return nil, nil, false, nil
	}
	if version != stateSchemaVersion {
		return nil, nil, false, fmt.Errorf("state schema %q is not supported (want %q)", version, stateSchemaVersion)
	}

	progressBlob, err := s.GetMetadata(keyProgress)
	if err != nil {
		return nil, nil, false, err
	}
	if progressBlob != "" {
		if err := json.Unmarshal([]byte(progressBlob), &progress); err != nil {
			return nil, nil, false, fmt.Errorf("unmarshal progress: %w", err)
		}
	}

	sessionsBlob, err := s.GetMetadata(keySessions)
	if err != nil {
		return nil, nil, false, err
	}
	if sessionsBlob != "" {
		if err := json.Unmarshal([]byte(sessionsBlob), &sessions); err != nil {
			return nil, nil, false, fmt.Errorf("unmarshal sessions: %w", err)
		}
	}

	return progress, sessions, true, nil
}
