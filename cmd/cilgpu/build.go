package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cilgpu/internal/device"
	"cilgpu/internal/pipeline"
	"cilgpu/internal/trace"
	"cilgpu/internal/ui"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [programs...]",
	Short: "Compile program descriptions to LLVM IR and PTX",
	Long:  "Compile program descriptions to LLVM IR and PTX. Without arguments the programs listed in cilgpu.toml are built.",
	RunE:  buildExecution,
}

func init() {
	buildCmd.Flags().Bool("emit-llvm", false, "write <name>.ll next to the output")
	buildCmd.Flags().Bool("emit-ptx", false, "write <name>.ptx next to the output")
	buildCmd.Flags().Bool("llvm-only", false, "stop after LLVM IR emission (no llc needed)")
	buildCmd.Flags().String("llc", "", "path to llc (default: llc on PATH)")
	buildCmd.Flags().String("cpu", "", "PTX target cpu, e.g. sm_35")
	buildCmd.Flags().String("triple", "", "target triple (default nvptx64-nvidia-cuda)")
	buildCmd.Flags().String("out", "", "output directory (default: target)")
	buildCmd.Flags().Int("jobs", 0, "programs built in parallel (default GOMAXPROCS)")
	buildCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	buildCmd.Flags().Bool("cache", true, "reuse PTX from the on-disk cache")
	buildCmd.Flags().String("cache-dir", "", "PTX cache directory (default $XDG_CACHE_HOME/cilgpu)")
	buildCmd.Flags().Bool("print-commands", false, "print external commands before running them")
}

type buildSettings struct {
	programs      []string
	emitLLVM      bool
	emitPTX       bool
	llvmOnly      bool
	llc           string
	cpu           string
	triple        string
	out           string
	jobs          int
	ui            switchMode
	cache         bool
	cacheDir      string
	printCommands bool
	flags         trace.Flags
	timings       bool
}

func readBuildSettings(cmd *cobra.Command, args []string) (*buildSettings, error) {
	f := cmd.Flags()
	s := &buildSettings{}
	var err error
	get := func(name string, dst *bool) {
		if err == nil {
			*dst, err = f.GetBool(name)
		}
	}
	getStr := func(name string, dst *string) {
		if err == nil {
			*dst, err = f.GetString(name)
		}
	}
	get("emit-llvm", &s.emitLLVM)
	get("emit-ptx", &s.emitPTX)
	get("llvm-only", &s.llvmOnly)
	get("cache", &s.cache)
	get("print-commands", &s.printCommands)
	getStr("llc", &s.llc)
	getStr("cpu", &s.cpu)
	getStr("triple", &s.triple)
	getStr("out", &s.out)
	getStr("cache-dir", &s.cacheDir)
	var uiValue string
	getStr("ui", &uiValue)
	if err != nil {
		return nil, err
	}
	if s.jobs, err = f.GetInt("jobs"); err != nil {
		return nil, err
	}
	if s.timings, err = cmd.Root().PersistentFlags().GetBool("timings"); err != nil {
		return nil, err
	}
	if s.ui, err = readSwitch("ui", uiValue); err != nil {
		return nil, err
	}
	if s.flags, err = traceFlags(cmd); err != nil {
		return nil, err
	}
	if s.llvmOnly && s.emitPTX {
		return nil, fmt.Errorf("--emit-ptx and --llvm-only are mutually exclusive")
	}

	if len(args) > 0 {
		s.programs = args
		if s.out == "" {
			s.out = "target"
		}
		return s, nil
	}

	manifest, found, err := loadProjectManifest(".")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(noManifestMessage)
	}
	if s.programs, err = manifest.programs(); err != nil {
		return nil, err
	}
	// Flags win over the manifest.
	b := manifest.Config.Build
	if !f.Changed("llc") {
		s.llc = manifest.resolvePath(b.LLC)
	}
	if !f.Changed("cpu") {
		s.cpu = b.CPU
	}
	if !f.Changed("triple") {
		s.triple = b.Triple
	}
	if !f.Changed("cache-dir") {
		s.cacheDir = manifest.resolvePath(b.CacheDir)
	}
	if !f.Changed("out") {
		s.out = b.Out
		if s.out == "" {
			s.out = "target"
		}
		s.out = manifest.resolvePath(s.out)
	}
	return s, nil
}

func (s *buildSettings) requests(cmd *cobra.Command) ([]*pipeline.Request, error) {
	var cache *device.Cache
	if s.cache && !s.llvmOnly {
		c, err := device.OpenCache(s.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open PTX cache: %w", err)
		}
		cache = c
	}
	out := cmd.OutOrStdout()
	compiler := device.LLCCompiler{
		Path:          s.llc,
		CPU:           s.cpu,
		PrintCommands: s.printCommands,
		Echo:          func(line string) { fmt.Fprintln(cmd.ErrOrStderr(), line) },
	}
	tracer := trace.FromContext(cmd.Context())
	reqs := make([]*pipeline.Request, 0, len(s.programs))
	for _, p := range s.programs {
		reqs = append(reqs, &pipeline.Request{
			Path:     p,
			OutDir:   s.out,
			EmitLLVM: s.emitLLVM,
			EmitPTX:  s.emitPTX,
			LLVMOnly: s.llvmOnly,
			Device: device.Options{
				Triple:   s.triple,
				CPU:      s.cpu,
				Compiler: compiler,
				Cache:    cache,
			},
			Tracer: tracer,
			Flags:  s.flags,
			Out:    out,
		})
	}
	return reqs, nil
}

func buildExecution(cmd *cobra.Command, args []string) error {
	s, err := readBuildSettings(cmd, args)
	if err != nil {
		return err
	}
	s.programs = displayNames(s.programs)
	reqs, err := s.requests(cmd)
	if err != nil {
		return err
	}
	jobs := s.jobs
	// Console dumps from parallel builds would interleave.
	if s.flags != 0 {
		jobs = 1
	}

	var results []pipeline.Result
	run := func(sink pipeline.ProgressSink) error {
		for _, r := range reqs {
			r.Progress = sink
		}
		var err error
		results, err = pipeline.BuildAll(cmd.Context(), reqs, jobs)
		return err
	}
	if s.ui.enabled(os.Stdout) && s.flags == 0 {
		err = ui.Run(os.Stdout, "cilgpu build", s.programs, run)
	} else {
		err = run(nil)
	}

	out := cmd.OutOrStdout()
	printResults(out, results)
	if s.timings {
		for _, r := range results {
			if r.Timer == nil || r.Name == "" {
				continue
			}
			fmt.Fprintf(out, "%s ", r.Name)
			fmt.Fprint(out, r.Timer.Summary())
		}
	}
	return err
}

func displayNames(paths []string) []string {
	cwd, err := os.Getwd()
	if err != nil {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p
		if abs, err := filepath.Abs(p); err == nil {
			if rel, err := filepath.Rel(cwd, abs); err == nil {
				out[i] = filepath.ToSlash(rel)
			}
		}
	}
	return out
}

func printResults(out io.Writer, results []pipeline.Result) {
	ok := color.New(color.FgGreen, color.Bold)
	for _, r := range results {
		if r.Kernel == "" {
			continue
		}
		line := fmt.Sprintf("%s %s: kernel @%s", ok.Sprint("built"), r.Name, r.Kernel)
		if r.Cached {
			line += " (cached ptx)"
		}
		fmt.Fprintln(out, line)
		for _, p := range []string{r.LLPath, r.PTXPath} {
			if p != "" {
				fmt.Fprintf(out, "  wrote %s\n", p)
			}
		}
	}
}
