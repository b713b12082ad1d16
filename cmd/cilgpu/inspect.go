package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cilgpu/internal/cfg"
	"cilgpu/internal/jit"
	"cilgpu/internal/progfile"
	"cilgpu/internal/stacklevel"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] <program>",
	Short: "Print the block graph of a program description",
	Long:  "Print the block graph of a program description after loading, after generic instantiation, or with stack levels.",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectExecution,
}

func init() {
	inspectCmd.Flags().String("stage", "load", "graph to print (load|instantiate|levels)")
	inspectCmd.Flags().Bool("code", true, "include instructions")
}

func inspectExecution(cmd *cobra.Command, args []string) error {
	stage, err := cmd.Flags().GetString("stage")
	if err != nil {
		return err
	}
	withCode, err := cmd.Flags().GetBool("code")
	if err != nil {
		return err
	}
	stage = strings.ToLower(strings.TrimSpace(stage))
	switch stage {
	case "load", "instantiate", "levels":
	default:
		return fmt.Errorf("invalid --stage value %q (expected load|instantiate|levels)", stage)
	}

	f, err := progfile.Load(args[0])
	if err != nil {
		return err
	}
	prog, err := progfile.Build(f, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "program %s, kernel %s\n", prog.Name, prog.Kernel.FullName())
	for _, ct := range prog.Concrete {
		fmt.Fprintf(out, "concrete %s\n", ct.Type.FullName())
	}

	if stage != "load" {
		ctx := jit.NewContext(prog.Graph, jit.Options{})
		conv := jit.NewConverter(ctx, 0)
		blocks, err := conv.InstantiateGenerics(prog.Blocks, prog.Concrete)
		if err != nil {
			return err
		}
		if stage == "levels" {
			leaves := make([]cfg.VertexID, 0, len(blocks))
			for _, id := range blocks {
				if prog.Graph.IsFullyInstantiated(id) {
					leaves = append(leaves, id)
				}
			}
			jit.SetFacts(prog.Graph, leaves)
			if _, err := stacklevel.Compute(prog.Graph, leaves, ctx.Tracer(), 0); err != nil {
				return err
			}
		}
	}
	return prog.Graph.Dump(out, withCode)
}
