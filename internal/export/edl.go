package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/droneai/review-agent/internal/session"
)

// GenerateEDL renders the clip windows of a report as a CMX3600 edit list
// against the source video. Rows whose clip failed are skipped.
func GenerateEDL(rows []session.ReportRow, title, mediaPath string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	n := 0
	for _, row := range rows {
		if row.Error != "" {
			continue
		}
		n++
		startMs := secToMs(row.StartSec)
		endMs := secToMs(row.EndSec)
		durationMs := endMs - startMs

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", n, "AX", "V", msToTimecode(startMs, fps), msToTimecode(endMs, fps),
				msToTimecode(recordOffsetMs, fps), msToTimecode(recordOffsetMs+durationMs, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", row.ClipFile),
			fmt.Sprintf("* COMMENT:  %s #%d", row.Type, row.Index),
			fmt.Sprintf("* MEDIA PATH:  %s", mediaPath),
		)

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secToMs(sec float64) int {
	return int(math.Round(sec * 1000))
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
