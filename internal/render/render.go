// Package render produces the per-case flow inputs: the OpenROAD flow's
// config.mk and the timing constraint.sdc, from embedded templates.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// FlowConfig is the data for a rendered config.mk.
type FlowConfig struct {
	DesignName      string
	Platform        string
	VerilogGlob     string
	SDCPath         string
	CoreUtilization int
	PlaceDensity    float64
}

// Constraints is the data for a rendered constraint.sdc.
type Constraints struct {
	DesignName    string
	ClockName     string
	ClockPort     string
	ClockPeriodNS float64
	ClockIOPct    float64
}

// NormalizeDensity interprets a user-provided density as either a percent
// (>1) or a fraction (≤1) and returns both conventions: the core
// utilization percent and the placement density fraction.
func NormalizeDensity(density float64) (utilPercent, placeDensity float64) {
	if density > 1 {
		return density, density / 100.0
	}
	return density * 100.0, density
}

// FlowConfigText renders config.mk contents.
func FlowConfigText(cfg FlowConfig) (string, error) {
	return execute("config.mk.tmpl", cfg)
}

// ConstraintsText renders constraint.sdc contents.
func ConstraintsText(c Constraints) (string, error) {
	if c.ClockName == "" {
		c.ClockName = "core_clock"
	}
	if c.ClockPort == "" {
		c.ClockPort = "clk"
	}
	if c.ClockIOPct == 0 {
		c.ClockIOPct = 0.2
	}
	return execute("constraint.sdc.tmpl", c)
}

// WriteFile writes rendered content, creating parent directories. Always
// overwrites: re-rendering a config after a partial run must refresh it.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
