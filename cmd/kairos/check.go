package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/compiler/hash"
)

type diagnosticReport struct {
	Line    int    `json:"line" yaml:"line"`
	Column  int    `json:"column" yaml:"column"`
	Message string `json:"message" yaml:"message"`
}

type checkReport struct {
	File        string             `json:"file" yaml:"file"`
	OK          bool               `json:"ok" yaml:"ok"`
	ProgramHash string             `json:"program_hash,omitempty" yaml:"program_hash,omitempty"`
	Kernels     []string           `json:"kernels,omitempty" yaml:"kernels,omitempty"`
	Diagnostics []diagnosticReport `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [files...]",
		Short: "Parse and resolve kernel sources without running them",
		Long: `Check kernel sources for syntax and name-resolution errors. Each valid file
is reported with its program hash, which is independent of formatting,
comments and local variable names.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkFiles(cmd, rootOpts, args)
		},
	}
}

func checkFile(path string) (checkReport, error) {
	r := checkReport{File: path}
	prog, err := compileFile(path)
	var cerr *compiler.Error
	switch {
	case err == nil:
		r.OK = true
		r.ProgramHash = hash.String(hash.HashProgram(prog))
		for _, k := range prog.Kernels {
			r.Kernels = append(r.Kernels, k.Name)
		}
	case errors.As(err, &cerr):
		for _, d := range cerr.Diagnostics {
			r.Diagnostics = append(r.Diagnostics, diagnosticReport{Line: d.Pos.Line, Column: d.Pos.Column, Message: d.Msg})
		}
	default:
		return r, err
	}
	return r, nil
}

func checkFiles(cmd *cobra.Command, rootOpts *rootOptions, files []string) error {
	if len(files) == 0 {
		m, err := loadManifest(rootOpts)
		if err != nil {
			return commandError(err)
		}
		if m.Experiment.Source == "" {
			return commandError(errors.New("no files given and no experiment.source configured"))
		}
		files = []string{m.SourcePath()}
	}

	reports := make([]checkReport, 0, len(files))
	bad := 0
	for _, f := range files {
		r, err := checkFile(f)
		if err != nil {
			return commandError(err)
		}
		if !r.OK {
			bad++
		}
		reports = append(reports, r)
	}

	err := emit(cmd.OutOrStdout(), rootOpts.Format, reports, func(w io.Writer) error {
		for _, r := range reports {
			if r.OK {
				fmt.Fprintf(w, "%s: ok %s\n", r.File, shortHash(r.ProgramHash))
				continue
			}
			for _, d := range r.Diagnostics {
				fmt.Fprintf(w, "%s:%d:%d: %s\n", r.File, d.Line, d.Column, d.Message)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if bad > 0 {
		return failure("%d of %d files have errors", bad, len(files))
	}
	return nil
}
