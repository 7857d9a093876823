package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/pkg/bytecode"
	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/server"
)

type serveOptions struct {
	Addr       string
	Export     string
	Kernels    []string
	TraceLimit int
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve host procedures to remote kernels",
		Long: `Serve the host procedure library (record, echo, raise_error, sum) over
Connect, gRPC and gRPC-Web on one port. Kernels reach it with
rpc.transport = "connect" or "grpc" in kairos.toml.

With --export, the kernels of a program are compiled for the device backend
and served as procedures too, so host code can call into them.

Status endpoints: GET /healthz, GET /v1/targets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, rootOpts, o)
		},
	}
	cmd.Flags().StringVar(&o.Addr, "addr", ":7070", "listen address")
	cmd.Flags().StringVar(&o.Export, "export", "", "kernel program whose kernels are served as procedures")
	cmd.Flags().StringSliceVar(&o.Kernels, "kernels", nil, "export only these kernels (with --export)")
	cmd.Flags().IntVar(&o.TraceLimit, "trace-limit", 1024, "keep only this many recent record() entries")
	return cmd
}

// hostRegistry builds the registry a server exposes.
func hostRegistry(rootOpts *rootOptions, o *serveOptions) (*rpc.Registry, error) {
	reg := rpc.NewRegistry()
	if err := rpc.NewHostLib(rpc.WithTraceLimit(o.TraceLimit)).Register(reg); err != nil {
		return nil, err
	}
	if o.Export == "" {
		return reg, nil
	}

	m, err := loadManifest(rootOpts)
	if err != nil {
		return nil, err
	}
	prog, err := compileFile(o.Export)
	if err != nil {
		return nil, err
	}
	img, err := bytecode.CompileProgram(prog)
	if err != nil {
		return nil, err
	}
	devices, err := m.DeviceRegistry()
	if err != nil {
		return nil, err
	}
	if err := bytecode.ExportKernels(reg, img, devices, rpc.NewDirect(reg), o.Kernels...); err != nil {
		return nil, err
	}
	return reg, nil
}

func serve(cmd *cobra.Command, rootOpts *rootOptions, o *serveOptions) error {
	reg, err := hostRegistry(rootOpts, o)
	if err != nil {
		return commandError(err)
	}
	log.Infof("serving %v", reg.Names())

	srv := server.New(reg)
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(o.Addr) }()

	select {
	case err := <-errc:
		return commandError(err)
	case <-ctx.Done():
	}

	log.Notice("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
