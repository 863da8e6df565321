// Package export renders finalized session reports as CSV and EDL files and
// provides the file naming helpers used for derived artifacts.
package export

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatEDL  Format = "edl"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatEDL:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatEDL:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

const (
	ReportCSVName = "report.csv"
	ReportEDLName = "report.edl"
)
