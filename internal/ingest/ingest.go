// Package ingest turns analyzer reports into normalized findings.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownFormat is returned when a report is valid JSON but matches none
// of the supported formats.
var ErrUnknownFormat = errors.New("unknown report format")

// Format identifies a supported report layout.
type Format string

const (
	FormatBrakeman Format = "brakeman"
	FormatSARIF    Format = "sarif"
)

// Adapter maps one report format onto findings.
type Adapter interface {
	FromReport(raw []byte) ([]schemas.Finding, error)
}

// AdapterFor returns the adapter for a format.
func AdapterFor(format Format) (Adapter, error) {
	switch format {
	case FormatBrakeman:
		return BrakemanAdapter{}, nil
	case FormatSARIF:
		return SARIFAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Detect inspects the top-level keys of a report. SARIF logs carry "runs",
// Brakeman reports carry "warnings".
func Detect(raw []byte) (Format, error) {
	var top map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return "", fmt.Errorf("failed to parse report: %w", err)
	}
	if _, ok := top["runs"]; ok {
		return FormatSARIF, nil
	}
	if _, ok := top["warnings"]; ok {
		return FormatBrakeman, nil
	}
	return "", ErrUnknownFormat
}

// Parse detects the format of raw and converts it.
func Parse(raw []byte) ([]schemas.Finding, Format, error) {
	format, err := Detect(raw)
	if err != nil {
		return nil, "", err
	}
	adapter, err := AdapterFor(format)
	if err != nil {
		return nil, "", err
	}
	findings, err := adapter.FromReport(raw)
	if err != nil {
		return nil, format, err
	}
	return findings, format, nil
}

// LoadReport reads the report at path and converts it.
func LoadReport(path string) ([]schemas.Finding, Format, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read report %s: %w", path, err)
	}
	return Parse(raw)
}

// normalizeConfidence maps the confidence vocabulary of the supported tools
// onto the four levels.
func normalizeConfidence(raw string) schemas.Confidence {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "very-high", "certain", "error":
		return schemas.ConfidenceHigh
	case "medium", "warning":
		return schemas.ConfidenceMedium
	case "weak", "low", "note":
		return schemas.ConfidenceLow
	default:
		return schemas.ConfidenceUnknown
	}
}
