package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/store"
)

func addRunFlags(cmd *cobra.Command, o *runOptions, withBackend bool) {
	cmd.Flags().StringVarP(&o.Entry, "entry", "e", "", "kernel to start (default from kairos.toml, else main)")
	cmd.Flags().StringArrayVarP(&o.Args, "arg", "a", nil, "kernel argument as name=value (repeatable)")
	cmd.Flags().Int64Var(&o.StartMu, "start-mu", 0, "initial timeline cursor in machine units")
	if withBackend {
		cmd.Flags().StringVarP(&o.Backend, "backend", "b", "", "backend to run: host, device or both")
	}
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [file.k]",
		Short: "Run a kernel program",
		Long: `Run a kernel program and print its return value, final timeline cursor,
attributes, recorded host trace and output. An unhandled kernel exception
is reported and makes the command exit with status 1.

Example:
  kairos run pulses.k
  kairos run -b device -a n=10 -a width=2.5 primes.k`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(cmd, rootOpts, o, args)
		},
	}
	addRunFlags(cmd, o, true)
	return cmd
}

func runKernel(cmd *cobra.Command, rootOpts *rootOptions, o *runOptions, args []string) error {
	p, err := loadProject(rootOpts, args)
	if err != nil {
		return commandError(err)
	}
	backendName := o.Backend
	if backendName == "" {
		backendName = p.m.Experiment.Backend
	}
	backends, err := selectBackends(backendName)
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

	var (
		artifacts []*conformance.Artifact
		reports   []artifactReport
		failed    bool
	)
	for _, b := range backends {
		a, err := conformance.Run(ctx, b, p.prog, setup)
		if err != nil {
			return commandError(err)
		}
		var runID string
		if st != nil {
			run := store.FromArtifact(p.name(), p.hash, o.entry(p.m), a)
			if err := st.RecordRun(ctx, run); err != nil {
				log.Errorf("recording %s run: %s", a.Backend, err)
			} else {
				runID = run.ID
			}
		}
		if a.Error != "" {
			failed = true
		}
		artifacts = append(artifacts, a)
		reports = append(reports, newArtifactReport(a, runID))
	}

	var out any = reports
	if len(reports) == 1 {
		out = reports[0]
	}
	err = emit(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
		for i, a := range artifacts {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := writeArtifact(w, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed {
		return failure("kernel raised an unhandled exception")
	}
	return nil
}
