package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReportFormat is the encoding of a written report.
type ReportFormat string

const (
	ReportJSON ReportFormat = "json"
	ReportYAML ReportFormat = "yaml"
)

// FormatForPath picks the report format from the file extension.
func FormatForPath(path string) (ReportFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReportJSON, nil
	case ".yaml", ".yml":
		return ReportYAML, nil
	}
	return "", fmt.Errorf("observability: report file %s must end in .json, .yaml or .yml", path)
}

// EncodeReport writes v to w in format.
func EncodeReport(w io.Writer, format ReportFormat, v any) error {
	switch format {
	case ReportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("observability: failed to encode report: %w", err)
		}
		return nil
	case ReportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("observability: failed to encode report: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("observability: unsupported report format %q", format)
}

// WriteReport writes v to path, choosing the format from its extension.
func WriteReport(path string, v any) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("observability: failed to create report: %w", err)
	}
	if err := EncodeReport(f, format, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
