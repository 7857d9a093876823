package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/store"
	"github.com/chazu/kairos/vm"
)

// emit writes v as JSON or YAML, or calls text for the text format.
func emit(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return text(w)
}

// artifactReport is the structured form of one run's observables.
type artifactReport struct {
	RunID   string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Backend string         `json:"backend" yaml:"backend"`
	Return  any            `json:"return" yaml:"return"`
	NowMu   int64          `json:"now_mu" yaml:"now_mu"`
	Attrs   map[string]any `json:"attrs" yaml:"attrs"`
	Trace   []any          `json:"trace" yaml:"trace"`
	Output  string         `json:"output,omitempty" yaml:"output,omitempty"`
	Error   string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func newArtifactReport(a *conformance.Artifact, runID string) artifactReport {
	attrs := make(map[string]any, len(a.Attrs))
	for k, v := range a.Attrs {
		attrs[k] = vm.ToPlain(v)
	}
	trace := make([]any, len(a.Trace))
	for i, v := range a.Trace {
		trace[i] = vm.ToPlain(v)
	}
	return artifactReport{
		RunID:   runID,
		Backend: a.Backend,
		Return:  vm.ToPlain(a.Return),
		NowMu:   int64(a.Now),
		Attrs:   attrs,
		Trace:   trace,
		Output:  a.Output,
		Error:   a.Error,
	}
}

// writeArtifact prints an artifact in text form, headed by its backend.
func writeArtifact(w io.Writer, a *conformance.Artifact) error {
	if _, err := fmt.Fprintf(w, "backend: %s\n", a.Backend); err != nil {
		return err
	}
	_, err := io.WriteString(w, a.Render())
	return err
}

type mismatchReport struct {
	Field  string            `json:"field" yaml:"field"`
	Values map[string]string `json:"values" yaml:"values"`
}

// comparisonReport is the structured form of a comparison.
type comparisonReport struct {
	ComparisonID string           `json:"comparison_id,omitempty" yaml:"comparison_id,omitempty"`
	Program      string           `json:"program" yaml:"program"`
	ProgramHash  string           `json:"program_hash" yaml:"program_hash"`
	Equal        bool             `json:"equal" yaml:"equal"`
	Mismatches   []mismatchReport `json:"mismatches" yaml:"mismatches"`
	Runs         []artifactReport `json:"runs" yaml:"runs"`
}

func newComparisonReport(id, program, programHash string, d *conformance.Diff) comparisonReport {
	r := comparisonReport{
		ComparisonID: id,
		Program:      program,
		ProgramHash:  programHash,
		Equal:        d.Equal(),
		Mismatches:   []mismatchReport{},
	}
	for _, m := range d.Mismatches {
		mr := mismatchReport{Field: m.Field, Values: make(map[string]string, len(m.Values))}
		for i, a := range d.Artifacts {
			if i < len(m.Values) {
				mr.Values[a.Backend] = m.Values[i]
			}
		}
		r.Mismatches = append(r.Mismatches, mr)
	}
	for _, a := range d.Artifacts {
		r.Runs = append(r.Runs, newArtifactReport(a, ""))
	}
	return r
}

// runSummary is one line of history output.
type runSummary struct {
	ID           string `json:"id" yaml:"id"`
	ComparisonID string `json:"comparison_id,omitempty" yaml:"comparison_id,omitempty"`
	StartedAt    string `json:"started_at" yaml:"started_at"`
	Program      string `json:"program" yaml:"program"`
	ProgramHash  string `json:"program_hash" yaml:"program_hash"`
	Entry        string `json:"entry" yaml:"entry"`
	Backend      string `json:"backend" yaml:"backend"`
	NowMu        int64  `json:"now_mu" yaml:"now_mu"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newRunSummary(r *store.Run) runSummary {
	return runSummary{
		ID:           r.ID,
		ComparisonID: r.ComparisonID,
		StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
		Program:      r.Program,
		ProgramHash:  r.ProgramHash,
		Entry:        r.Entry,
		Backend:      r.Backend,
		NowMu:        int64(r.Now),
		Error:        r.Error,
	}
}

// shortHash abbreviates a program hash for tables.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
