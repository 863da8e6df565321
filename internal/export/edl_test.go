package export

import (
	"strings"
	"testing"

	"github.com/droneai/review-agent/internal/session"
)

func TestGenerateEDL_EventWindows(t *testing.T) {
	rows := []session.ReportRow{
		{Index: 1, Type: "crash", StartSec: 8, EndSec: 12, ClipFile: "crash_01.mp4"},
		{Index: 2, Type: "crash", StartSec: 48, EndSec: 52.5, ClipFile: "crash_02.mp4"},
	}

	edl := GenerateEDL(rows, "alice highway", "/videos/a.mp4", 30.0)

	if !strings.Contains(edl, "TITLE: alice highway") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:08:00 00:00:12:00 00:00:00:00 00:00:04:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:48:00 00:00:52:15 00:00:04:00 00:00:08:15") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  crash_02.mp4") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /videos/a.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_SkipsFailedRows(t *testing.T) {
	rows := []session.ReportRow{
		{Index: 1, Type: "a", StartSec: 0, EndSec: 1, Error: "encoder exited"},
		{Index: 2, Type: "b", StartSec: 1, EndSec: 2, ClipFile: "b_02.mp4"},
	}

	edl := GenerateEDL(rows, "t", "/x.mp4", 30.0)

	if strings.Contains(edl, "002  AX") {
		t.Fatalf("failed row should not consume an event number: %q", edl)
	}
	if !strings.Contains(edl, "* COMMENT:  b #2") {
		t.Fatalf("missing surviving row: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	rows := []session.ReportRow{{Index: 1, Type: "x", StartSec: 0, EndSec: 1, ClipFile: "x_01.mp4"}}
	edl := GenerateEDL(rows, "Drop", "/x.mp4", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		fps  int
		want string
	}{
		{name: "zero", ms: 0, fps: 30, want: "00:00:00:00"},
		{name: "half second", ms: 500, fps: 30, want: "00:00:00:15"},
		{name: "pal frames", ms: 1040, fps: 25, want: "00:00:01:01"},
		{name: "one hour one minute", ms: 3660000, fps: 30, want: "01:01:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := msToTimecode(tc.ms, tc.fps); got != tc.want {
				t.Fatalf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
			}
		})
	}
}
