package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/kairos/pkg/bytecode"
)

type disasmOptions struct {
	Kernel string
	Out    string
}

func newDisasmCommand(rootOpts *rootOptions) *cobra.Command {
	o := &disasmOptions{}

	cmd := &cobra.Command{
		Use:   "disasm [file.k | image.krbc]",
		Short: "Compile a program for the device backend and list its bytecode",
		Long: `Compile a kernel program to a device image and print the listing. An
already encoded image (starting with the KRBC magic) is decoded and listed
as it is. With --out the encoded image is also written to a file.

Example:
  kairos disasm -k main pulses.k
  kairos disasm -o pulses.krbc pulses.k`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disassemble(cmd, rootOpts, o, args)
		},
	}
	cmd.Flags().StringVarP(&o.Kernel, "kernel", "k", "", "list only this kernel")
	cmd.Flags().StringVarP(&o.Out, "out", "o", "", "write the encoded image to this file")
	return cmd
}

func loadImage(rootOpts *rootOptions, args []string) (*bytecode.Image, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(data, bytecode.BytecodeMagic) {
			return bytecode.DecodeImage(data)
		}
	}
	p, err := loadProject(rootOpts, args)
	if err != nil {
		return nil, err
	}
	return bytecode.CompileProgram(p.prog)
}

func disassemble(cmd *cobra.Command, rootOpts *rootOptions, o *disasmOptions, args []string) error {
	img, err := loadImage(rootOpts, args)
	if err != nil {
		return commandError(err)
	}

	if o.Out != "" {
		data, err := img.Encode()
		if err != nil {
			return commandError(err)
		}
		if err := os.WriteFile(o.Out, data, 0o644); err != nil {
			return commandError(err)
		}
		log.Infof("wrote %d bytes to %s", len(data), o.Out)
	}

	if o.Kernel != "" {
		chunk := img.Kernel(o.Kernel)
		if chunk == nil {
			return commandError(fmt.Errorf("no kernel named %q", o.Kernel))
		}
		lines := map[string]any{"kernel": chunk.Name, "instructions": chunk.DisassembleToLines()}
		return emit(cmd.OutOrStdout(), rootOpts.Format, lines, func(w io.Writer) error {
			_, err := io.WriteString(w, chunk.Disassemble())
			return err
		})
	}

	listing := make(map[string][]string, len(img.Kernels))
	for _, k := range img.Kernels {
		listing[k.Name] = k.DisassembleToLines()
	}
	structured := map[string]any{
		"program": img.Program,
		"version": img.Version,
		"kernels": listing,
	}
	return emit(cmd.OutOrStdout(), rootOpts.Format, structured, func(w io.Writer) error {
		_, err := io.WriteString(w, img.Disassemble())
		return err
	})
}
