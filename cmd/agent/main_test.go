package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/api"
	"github.com/droneai/review-agent/internal/db"
	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
)

func executeCommand(args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return buf.String(), err
}

// seedData points the agent at a temp data dir holding one final and one
// paused session.
func seedData(t *testing.T) (finalID, pausedID string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("REVIEW_DATA_DIR", dir)

	database, err := db.New(filepath.Join(dir, "review.db"), nil)
	require.NoError(t, err)
	defer database.Close()
	repo := store.NewRepository(database.Conn())
	ctx := context.Background()

	for i, status := range []session.Status{session.StatusFinal, session.StatusPaused} {
		key := session.Key{Subject: "alice", Scenario: "highway", SourceRef: "/videos/drive.mp4"}
		s := &session.Session{ID: session.NewID(), Key: key, VideoPath: "/videos/drive.mp4", Mode: session.ModeEvents, Status: status}
		require.NoError(t, repo.UpsertSession(ctx, s))
		if i == 0 {
			finalID = s.ID
			require.NoError(t, repo.ReplaceReport(ctx, s.ID, []session.ReportRow{
				{Index: 1, Type: "crash", Time: 10, StartFrame: 270, EndFrame: 330, StartSec: 9, EndSec: 11, ClipFile: "crash_01.mp4"},
			}))
		} else {
			pausedID = s.ID
		}
	}
	return finalID, pausedID
}

func TestSessionsCommand(t *testing.T) {
	finalID, pausedID := seedData(t)

	out, err := executeCommand("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, finalID)
	assert.Contains(t, out, pausedID)
}

func TestSessionsCommand_Empty(t *testing.T) {
	t.Setenv("REVIEW_DATA_DIR", t.TempDir())

	out, err := executeCommand("sessions")
	require.NoError(t, err)
	assert.Equal(t, "no sessions\n", out)
}

func TestReportCommand_Stdout(t *testing.T) {
	finalID, _ := seedData(t)

	out, err := executeCommand("report", finalID, "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "crash_01.mp4")

	out, err = executeCommand("report", finalID, "--format", "edl")
	require.NoError(t, err)
	assert.Contains(t, out, "TITLE: alice highway")
}

func TestReportCommand_WritesFile(t *testing.T) {
	finalID, _ := seedData(t)
	outDir := t.TempDir()

	out, err := executeCommand("report", finalID, "--format", "json", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 rows")

	data, err := os.ReadFile(filepath.Join(outDir, "alice_highway.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"clip_file": "crash_01.mp4"`)
}

func TestReportCommand_Rejections(t *testing.T) {
	_, pausedID := seedData(t)

	_, err := executeCommand("report", pausedID)
	assert.ErrorIs(t, err, errNotFinal)

	_, err = executeCommand("report", "missing")
	assert.Error(t, err)

	_, err = executeCommand("report", pausedID, "--format", "xml")
	assert.Error(t, err)

	_, err = executeCommand("report")
	assert.Error(t, err, "session id is required")
}

func TestEnsureSecrets_Stable(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "review.db"), nil)
	require.NoError(t, err)
	defer database.Close()
	repo := store.NewRepository(database.Conn())
	ctx := context.Background()

	token, err := ensureAuthToken(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	again, err := ensureAuthToken(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	stored, err := repo.GetConfig(ctx, api.AuthTokenKey)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	device, err := ensureDeviceID(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, device, 32)
	assert.NotEqual(t, token, device)
}
