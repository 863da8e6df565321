package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/session"
)

// MetadataStore keeps one JSON sidecar per session so a session can be
// resumed from a file even without the database.
type MetadataStore struct {
	dir string
}

func NewMetadataStore(dir string) *MetadataStore {
	return &MetadataStore{dir: dir}
}

func (m *MetadataStore) Dir() string { return m.dir }

func (m *MetadataStore) Path(sessionID string) string {
	return filepath.Join(m.dir, export.SafeName(sessionID, "session")+".json")
}

// Write replaces the sidecar for snap atomically.
func (m *MetadataStore) Write(snap session.Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return export.WriteFile(m.dir, filepath.Base(m.Path(snap.SessionID)), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Read loads a sidecar from any path.
func (m *MetadataStore) Read(path string) (*session.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("metadata %s: %w", filepath.Base(path), ErrNotFound)
		}
		return nil, err
	}
	return session.UnmarshalSnapshot(data)
}

// Remove deletes the session's sidecar. A missing file is not an error.
func (m *MetadataStore) Remove(sessionID string) error {
	err := os.Remove(m.Path(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
