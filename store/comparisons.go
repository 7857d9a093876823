package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/vm"
)

// Comparison is one recorded conformance comparison and its runs.
type Comparison struct {
	ID          string
	StartedAt   time.Time
	Program     string
	ProgramHash string
	Equal       bool
	Mismatches  []conformance.Mismatch
	Runs        []*Run
}

// RecordComparison stores d and one run per artifact in a single
// transaction.
func (s *Store) RecordComparison(ctx context.Context, program, programHash, entry string, d *conformance.Diff) (*Comparison, error) {
	c := &Comparison{
		ID:          NewID(),
		StartedAt:   time.Now(),
		Program:     program,
		ProgramHash: programHash,
		Equal:       d.Equal(),
		Mismatches:  d.Mismatches,
	}
	mismatches, err := vm.Marshal(c.Mismatches)
	if err != nil {
		return nil, fmt.Errorf("store: encode mismatches: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comparisons (id, started_at, program, program_hash, equal, mismatches)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, formatTime(c.StartedAt), program, programHash, c.Equal, mismatches)
	if err != nil {
		return nil, fmt.Errorf("store: insert comparison: %w", err)
	}
	for _, a := range d.Artifacts {
		r := FromArtifact(program, programHash, entry, a)
		r.ComparisonID = c.ID
		r.StartedAt = c.StartedAt
		if err := insertRun(ctx, tx, r); err != nil {
			return nil, err
		}
		c.Runs = append(c.Runs, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return c, nil
}

const comparisonColumns = `id, started_at, program, program_hash, equal, mismatches`

func scanComparison(row scanner) (*Comparison, error) {
	var (
		c          Comparison
		started    string
		mismatches []byte
	)
	if err := row.Scan(&c.ID, &started, &c.Program, &c.ProgramHash, &c.Equal, &mismatches); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("store: comparison %s: bad start time: %w", c.ID, err)
	}
	c.StartedAt = t
	if err := vm.Unmarshal(mismatches, &c.Mismatches); err != nil {
		return nil, fmt.Errorf("store: comparison %s: decode mismatches: %w", c.ID, err)
	}
	return &c, nil
}

// GetComparison returns a comparison with its runs, or ErrNotFound.
func (s *Store) GetComparison(ctx context.Context, id string) (*Comparison, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+comparisonColumns+` FROM comparisons WHERE id = ?`, id)
	c, err := scanComparison(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: comparison %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	c.Runs, err = s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE comparison_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComparisons returns the most recent comparisons, newest first,
// without their runs.
func (s *Store) ListComparisons(ctx context.Context, limit int) ([]*Comparison, error) {
	query := `SELECT ` + comparisonColumns + ` FROM comparisons ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: query comparisons: %w", err)
	}
	defer rows.Close()

	out := []*Comparison{}
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate comparisons: %w", err)
	}
	return out, nil
}
