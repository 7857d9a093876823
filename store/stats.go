package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/chazu/kairos/vm"
)

// BackendStats aggregates the recorded runs of one program on one backend.
type BackendStats struct {
	Backend string
	Runs    int
	Failed  int
	MaxNow  vm.MU
}

// ProgramStats aggregates the history of one program.
type ProgramStats struct {
	Program       string
	Comparisons   int
	Disagreements int
	Backends      []BackendStats
}

// Stats summarizes the whole history by program, ordered by program name.
// A run counts as failed when it ended with an exception.
func (s *Store) Stats(ctx context.Context) ([]ProgramStats, error) {
	byProgram := map[string]*ProgramStats{}
	get := func(name string) *ProgramStats {
		p, ok := byProgram[name]
		if !ok {
			p = &ProgramStats{Program: name}
			byProgram[name] = p
		}
		return p
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT program, backend, COUNT(*),
		       SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		       MAX(now_mu)
		FROM runs
		GROUP BY program, backend
		ORDER BY program, backend
	`)
	if err != nil {
		return nil, fmt.Errorf("store: run stats: %w", err)
	}
	for rows.Next() {
		var (
			program string
			b       BackendStats
			maxNow  int64
		)
		if err := rows.Scan(&program, &b.Backend, &b.Runs, &b.Failed, &maxNow); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan run stats: %w", err)
		}
		b.MaxNow = vm.MU(maxNow)
		p := get(program)
		p.Backends = append(p.Backends, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: run stats: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT program, COUNT(*), SUM(CASE WHEN equal THEN 0 ELSE 1 END)
		FROM comparisons
		GROUP BY program
	`)
	if err != nil {
		return nil, fmt.Errorf("store: comparison stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			program  string
			total    int
			disagree int
		)
		if err := rows.Scan(&program, &total, &disagree); err != nil {
			return nil, fmt.Errorf("store: scan comparison stats: %w", err)
		}
		p := get(program)
		p.Comparisons, p.Disagreements = total, disagree
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: comparison stats: %w", err)
	}

	out := make([]ProgramStats, 0, len(byProgram))
	for _, p := range byProgram {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Program < out[j].Program })
	return out, nil
}
