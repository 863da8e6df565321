package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/droneai/review-agent/internal/session"
)

var csvHeader = []string{
	"index", "type", "time_sec", "start_frame", "end_frame", "start_sec", "end_sec",
	"clip_file", "model_label", "confidence", "significant", "error",
}

func WriteCSV(w io.Writer, rows []session.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Index),
			r.Type,
			formatSec(r.Time),
			strconv.Itoa(r.StartFrame),
			strconv.Itoa(r.EndFrame),
			formatSec(r.StartSec),
			formatSec(r.EndSec),
			r.ClipFile,
			r.ModelLabel,
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatBool(r.Significant),
			r.Error,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatSec(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// WriteFile writes data to dir/name through a temp file and rename.
func WriteFile(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename report: %w", err)
	}
	return path, nil
}
