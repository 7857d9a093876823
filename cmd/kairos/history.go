package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/store"
)

type historyOptions struct {
	Program     string
	ProgramHash string
	Backend     string
	Limit       int
	Comparisons bool
}

func newHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	o := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs and comparisons",
		Long: `List runs recorded by "kairos run" and "kairos compare", newest first.
Use "kairos history show <id>" to print one run or comparison in full
and "kairos history stats" for per-program totals.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistory(cmd, rootOpts, o)
		},
	}
	cmd.Flags().StringVar(&o.Program, "program", "", "only runs of this program")
	cmd.Flags().StringVar(&o.ProgramHash, "hash", "", "only runs whose program hash starts with this prefix")
	cmd.Flags().StringVar(&o.Backend, "backend", "", "only runs on this backend")
	cmd.Flags().IntVarP(&o.Limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&o.Comparisons, "comparisons", false, "list comparisons instead of runs")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run or comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, rootOpts, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded history per program and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return historyStats(cmd, rootOpts)
		},
	})
	return cmd
}

func historyStore(rootOpts *rootOptions) (*store.Store, error) {
	m, err := loadManifest(rootOpts)
	if err != nil {
		return nil, err
	}
	return store.Open(m.StorePath())
}

type comparisonSummary struct {
	ID          string `json:"id" yaml:"id"`
	StartedAt   string `json:"started_at" yaml:"started_at"`
	Program     string `json:"program" yaml:"program"`
	ProgramHash string `json:"program_hash" yaml:"program_hash"`
	Equal       bool   `json:"equal" yaml:"equal"`
	Mismatches  int    `json:"mismatches" yaml:"mismatches"`
}

func listHistory(cmd *cobra.Command, rootOpts *rootOptions, o *historyOptions) error {
	st, err := historyStore(rootOpts)
	if err != nil {
		return commandError(err)
	}
	defer st.Close()
	ctx := cmd.Context()

	if o.Comparisons {
		cs, err := st.ListComparisons(ctx, o.Limit)
		if err != nil {
			return commandError(err)
		}
		out := make([]comparisonSummary, 0, len(cs))
		for _, c := range cs {
			out = append(out, comparisonSummary{
				ID:          c.ID,
				StartedAt:   c.StartedAt.UTC().Format(time.RFC3339),
				Program:     c.Program,
				ProgramHash: c.ProgramHash,
				Equal:       c.Equal,
				Mismatches:  len(c.Mismatches),
			})
		}
		return emit(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tPROGRAM\tHASH\tRESULT")
			for _, c := range out {
				result := "agree"
				if !c.Equal {
					result = fmt.Sprintf("%d mismatches", c.Mismatches)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.StartedAt, c.Program, shortHash(c.ProgramHash), result)
			}
			return tw.Flush()
		})
	}

	runs, err := st.ListRuns(ctx, store.Filter{
		Program:     o.Program,
		ProgramHash: o.ProgramHash,
		Backend:     o.Backend,
		Limit:       o.Limit,
	})
	if err != nil {
		return commandError(err)
	}
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, newRunSummary(r))
	}
	return emit(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tPROGRAM\tHASH\tBACKEND\tNOW\tERROR")
		for _, r := range out {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.StartedAt, r.Program, shortHash(r.ProgramHash), r.Backend, r.NowMu, r.Error)
		}
		return tw.Flush()
	})
}

func showHistory(cmd *cobra.Command, rootOpts *rootOptions, id string) error {
	st, err := historyStore(rootOpts)
	if err != nil {
		return commandError(err)
	}
	defer st.Close()
	ctx := cmd.Context()

	run, err := st.GetRun(ctx, id)
	switch {
	case err == nil:
		return emit(cmd.OutOrStdout(), rootOpts.Format, newArtifactReport(run.Artifact(), run.ID), func(w io.Writer) error {
			fmt.Fprintf(w, "run: %s\nprogram: %s (%s)\nentry: %s\n", run.ID, run.Program, shortHash(run.ProgramHash), run.Entry)
			return writeArtifact(w, run.Artifact())
		})
	case !errors.Is(err, store.ErrNotFound):
		return commandError(err)
	}

	c, err := st.GetComparison(ctx, id)
	if err != nil {
		return commandError(err)
	}
	report := comparisonReport{
		ComparisonID: c.ID,
		Program:      c.Program,
		ProgramHash:  c.ProgramHash,
		Equal:        c.Equal,
		Mismatches:   []mismatchReport{},
	}
	for _, m := range c.Mismatches {
		mr := mismatchReport{Field: m.Field, Values: make(map[string]string, len(m.Values))}
		for i, r := range c.Runs {
			if i < len(m.Values) {
				mr.Values[r.Backend] = m.Values[i]
			}
		}
		report.Mismatches = append(report.Mismatches, mr)
	}
	for _, r := range c.Runs {
		report.Runs = append(report.Runs, newArtifactReport(r.Artifact(), r.ID))
	}
	return emit(cmd.OutOrStdout(), rootOpts.Format, report, func(w io.Writer) error {
		fmt.Fprintf(w, "comparison: %s\nprogram: %s (%s)\n", c.ID, c.Program, shortHash(c.ProgramHash))
		if c.Equal {
			fmt.Fprintln(w, "backends agree")
		}
		for _, m := range report.Mismatches {
			fmt.Fprintf(w, "%s:\n", m.Field)
			for _, r := range c.Runs {
				fmt.Fprintf(w, "  %-8s %s\n", r.Backend+":", m.Values[r.Backend])
			}
		}
		for _, r := range c.Runs {
			fmt.Fprintf(w, "\nrun: %s\n", r.ID)
			if err := writeArtifact(w, r.Artifact()); err != nil {
				return err
			}
		}
		return nil
	})
}

type backendStats struct {
	Backend string `json:"backend" yaml:"backend"`
	Runs    int    `json:"runs" yaml:"runs"`
	Failed  int    `json:"failed" yaml:"failed"`
	MaxNow  int64  `json:"max_now_mu" yaml:"max_now_mu"`
}

type programStats struct {
	Program       string         `json:"program" yaml:"program"`
	Comparisons   int            `json:"comparisons" yaml:"comparisons"`
	Disagreements int            `json:"disagreements" yaml:"disagreements"`
	Backends      []backendStats `json:"backends" yaml:"backends"`
}

func historyStats(cmd *cobra.Command, rootOpts *rootOptions) error {
	st, err := historyStore(rootOpts)
	if err != nil {
		return commandError(err)
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return commandError(err)
	}
	out := make([]programStats, 0, len(stats))
	for _, p := range stats {
		ps := programStats{
			Program:       p.Program,
			Comparisons:   p.Comparisons,
			Disagreements: p.Disagreements,
			Backends:      make([]backendStats, 0, len(p.Backends)),
		}
		for _, b := range p.Backends {
			ps.Backends = append(ps.Backends, backendStats{Backend: b.Backend, Runs: b.Runs, Failed: b.Failed, MaxNow: int64(b.MaxNow)})
		}
		out = append(out, ps)
	}
	return emit(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROGRAM\tBACKEND\tRUNS\tFAILED\tMAX NOW\tCOMPARISONS\tDISAGREE")
		for _, p := range out {
			for _, b := range p.Backends {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", p.Program, b.Backend, b.Runs, b.Failed, b.MaxNow, p.Comparisons, p.Disagreements)
			}
		}
		return tw.Flush()
	})
}
