package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/vm"
)

// Run is one recorded kernel run.
type Run struct {
	ID           string
	ComparisonID string // empty unless the run was part of a comparison
	StartedAt    time.Time
	Program      string
	ProgramHash  string
	Entry        string
	Backend      string
	Now          vm.MU
	Error        string

	Return vm.Value
	Attrs  vm.Dict
	Trace  []vm.Value
	Output string
}

// FromArtifact builds a Run from a conformance artifact.
func FromArtifact(program, programHash, entry string, a *conformance.Artifact) *Run {
	return &Run{
		Program:     program,
		ProgramHash: programHash,
		Entry:       entry,
		Backend:     a.Backend,
		Now:         a.Now,
		Error:       a.Error,
		Return:      a.Return,
		Attrs:       a.Attrs,
		Trace:       a.Trace,
		Output:      a.Output,
	}
}

// Artifact returns the run's observables in conformance form.
func (r *Run) Artifact() *conformance.Artifact {
	return &conformance.Artifact{
		Backend: r.Backend,
		Return:  r.Return,
		Now:     r.Now,
		Attrs:   r.Attrs,
		Trace:   r.Trace,
		Output:  r.Output,
		Error:   r.Error,
	}
}

// artifactBlob is the stored form of a run's values.
type artifactBlob struct {
	Return vm.WireValue            `cbor:"return"`
	Attrs  map[string]vm.WireValue `cbor:"attrs"`
	Trace  []vm.WireValue          `cbor:"trace"`
	Output string                  `cbor:"output"`
}

// storable converts v for storage. Values outside the wire format, such as
// exception types, are kept as their repr.
func storable(v vm.Value) vm.WireValue {
	w, err := vm.ToWire(v)
	if err != nil {
		return vm.WireValue{Kind: vm.WireString, S: vm.Repr(v)}
	}
	return w
}

func encodeArtifact(r *Run) ([]byte, error) {
	blob := artifactBlob{
		Return: storable(r.Return),
		Attrs:  make(map[string]vm.WireValue, len(r.Attrs)),
		Trace:  make([]vm.WireValue, len(r.Trace)),
		Output: r.Output,
	}
	for k, v := range r.Attrs {
		blob.Attrs[k] = storable(v)
	}
	for i, v := range r.Trace {
		blob.Trace[i] = storable(v)
	}
	return vm.Marshal(blob)
}

func decodeArtifact(data []byte, r *Run) error {
	var blob artifactBlob
	if err := vm.Unmarshal(data, &blob); err != nil {
		return err
	}
	r.Return = vm.FromWire(blob.Return)
	r.Attrs = make(vm.Dict, len(blob.Attrs))
	for k, w := range blob.Attrs {
		r.Attrs[k] = vm.FromWire(w)
	}
	r.Trace = vm.FromWireArgs(blob.Trace)
	r.Output = blob.Output
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordRun stores r, assigning its ID and start time if they are unset.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	return insertRun(ctx, s.db, r)
}

func insertRun(ctx context.Context, db execer, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	blob, err := encodeArtifact(r)
	if err != nil {
		return fmt.Errorf("store: encode run %s: %w", r.ID, err)
	}
	var comparison sql.NullString
	if r.ComparisonID != "" {
		comparison = sql.NullString{String: r.ComparisonID, Valid: true}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, comparison_id, started_at, program, program_hash, entry, backend, now_mu, error, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, comparison, formatTime(r.StartedAt), r.Program, r.ProgramHash, r.Entry, r.Backend, int64(r.Now), r.Error, blob)
	if err != nil {
		return fmt.Errorf("store: insert run %s: %w", r.ID, err)
	}
	log.Debugf("recorded run %s (%s on %s)", r.ID, r.Program, r.Backend)
	return nil
}

const runColumns = `id, comparison_id, started_at, program, program_hash, entry, backend, now_mu, error, artifact`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		comparison sql.NullString
		started    string
		now        int64
		blob       []byte
	)
	if err := row.Scan(&r.ID, &comparison, &started, &r.Program, &r.ProgramHash, &r.Entry, &r.Backend, &now, &r.Error, &blob); err != nil {
		return nil, err
	}
	r.ComparisonID = comparison.String
	r.Now = vm.MU(now)
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("store: run %s: bad start time: %w", r.ID, err)
	}
	r.StartedAt = t
	if err := decodeArtifact(blob, &r); err != nil {
		return nil, fmt.Errorf("store: run %s: decode artifact: %w", r.ID, err)
	}
	return &r, nil
}

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return r, err
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	Program     string
	ProgramHash string
	Backend     string
	Limit       int
}

// ListRuns returns matching runs, newest first.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]*Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Program != "" {
		where = append(where, "program = ?")
		args = append(args, f.Program)
	}
	if f.ProgramHash != "" {
		where = append(where, "program_hash LIKE ?")
		args = append(args, f.ProgramHash+"%")
	}
	if f.Backend != "" {
		where = append(where, "backend = ?")
		args = append(args, f.Backend)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	return runs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
