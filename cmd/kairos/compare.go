package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/conformance"
)

func newCompareCommand(rootOpts *rootOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "compare [file.k]",
		Short: "Run a program on both backends and diff the results",
		Long: `Run a kernel program on the host simulator and on the device backend, each
from fresh state, and compare every observable: return value, final
timeline cursor, attributes, host trace, output and unhandled exception.
Any difference makes the command exit with status 1.

Example:
  kairos compare exceptions.k
  kairos compare --format json -a n=20 primes.k`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compareKernel(cmd, rootOpts, o, args)
		},
	}
	addRunFlags(cmd, o, false)
	return cmd
}

func compareKernel(cmd *cobra.Command, rootOpts *rootOptions, o *runOptions, args []string) error {
	p, err := loadProject(rootOpts, args)
	if err != nil {
		return commandError(err)
	}
	setup, err := p.setup(o)
	if err != nil {
		return commandError(err)
	}
	st, err := openStore(rootOpts, p.m)
	if err != nil {
		return commandError(err)
	}
	if st != nil {
		defer st.Close()
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	d, err := conformance.Compare(ctx, p.prog, setup)
	if err != nil {
		return commandError(err)
	}

	var id string
	if st != nil {
		c, err := st.RecordComparison(ctx, p.name(), p.hash, o.entry(p.m), d)
		if err != nil {
			log.Errorf("recording comparison: %s", err)
		} else {
			id = c.ID
		}
	}

	report := newComparisonReport(id, p.name(), p.hash, d)
	err = emit(cmd.OutOrStdout(), rootOpts.Format, report, func(w io.Writer) error {
		fmt.Fprintf(w, "program: %s (%s)\n", p.name(), shortHash(p.hash))
		if id != "" {
			fmt.Fprintf(w, "comparison: %s\n", id)
		}
		if d.Equal() {
			fmt.Fprintf(w, "backends agree\n\n")
			return writeArtifact(w, d.Artifacts[0])
		}
		fmt.Fprintf(w, "backends disagree on %d observables\n", len(d.Mismatches))
		_, err := fmt.Fprintln(w, d.String())
		return err
	})
	if err != nil {
		return err
	}
	if !d.Equal() {
		return failure("backends disagree")
	}
	return nil
}
