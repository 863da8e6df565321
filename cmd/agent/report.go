package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/session"
)

var errNotFinal = errors.New("session has not been finalized")

func newReportCmd() *cobra.Command {
	var (
		format string
		outDir string
		fps    float64
	)
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print or write the event report of a finalized session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			_, database, repo, err := openStore()
			if err != nil {
				return err
			}
			defer database.Close()

			s, err := repo.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			if s == nil {
				return fmt.Errorf("session %s not found", args[0])
			}
			if s.Status != session.StatusFinal || !s.Mode.Discrete() {
				return fmt.Errorf("%s: %w", s.ID, errNotFinal)
			}
			rows, err := repo.ListReport(cmd.Context(), s.ID)
			if err != nil {
				return fmt.Errorf("load report: %w", err)
			}

			write := func(w io.Writer) error { return writeReport(w, f, s, rows, fps) }
			if outDir == "" {
				return write(cmd.OutOrStdout())
			}
			if err := export.ValidateOutputDir(outDir); err != nil {
				return err
			}
			name := export.SafeName(strings.TrimSpace(s.Key.Subject+"_"+s.Key.Scenario), "report") + "." + string(f)
			path, err := export.WriteFile(outDir, name, write)
			if err != nil {
				return err
			}
			cmd.Printf("wrote %d rows to %s\n", len(rows), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "report format: json, csv or edl")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write the report into (default stdout)")
	cmd.Flags().Float64Var(&fps, "fps", 30, "frame rate for EDL timecodes")
	return cmd
}

func writeReport(w io.Writer, f export.Format, s *session.Session, rows []session.ReportRow, fps float64) error {
	switch f {
	case export.FormatCSV:
		return export.WriteCSV(w, rows)
	case export.FormatEDL:
		title := strings.TrimSpace(s.Key.Subject + " " + s.Key.Scenario)
		if title == "" {
			title = s.ID
		}
		_, err := io.WriteString(w, export.GenerateEDL(rows, title, s.VideoPath, fps))
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
}
