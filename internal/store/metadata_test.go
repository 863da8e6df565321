package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/session"
)

func TestMetadataStore_WriteReadRemove(t *testing.T) {
	m := NewMetadataStore(filepath.Join(t.TempDir(), "metadata"))
	snap := session.Snapshot{
		SessionID: "s-1",
		Mode:      session.ModeLabels,
		Labels:    []session.Label{{Name: "A"}},
		Events:    []session.Event{},
		Chunks:    []session.LabelChunk{{Start: 0, End: 9, Label: "A"}},
		LastFrame: 10,
	}

	path, err := m.Write(snap)
	require.NoError(t, err)
	assert.Equal(t, m.Path("s-1"), path)

	got, err := m.Read(path)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)

	require.NoError(t, m.Remove("s-1"))
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, m.Remove("s-1"), "second remove is a no-op")

	_, err = m.Read(path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataStore_ReadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"mode":"labels"}`), 0644))

	_, err := NewMetadataStore(dir).Read(p)
	assert.Error(t, err)
}
