package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Compiler turns serialized LLVM IR into PTX assembly.
type Compiler interface {
	Compile(ctx context.Context, llvmIR string) (string, error)
}

// LLCCompiler runs llc from the LLVM toolchain.
type LLCCompiler struct {
	Path string // defaults to "llc" on PATH
	CPU  string // e.g. "sm_35"; empty leaves llc's default
	// PrintCommands echoes the command line to Echo before running it.
	PrintCommands bool
	Echo          func(string)
}

func (c LLCCompiler) Compile(ctx context.Context, llvmIR string) (string, error) {
	path := c.Path
	if path == "" {
		path = "llc"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return "", &Error{Stage: StageCompile, Err: fmt.Errorf("llc not found; install with: sudo apt-get install -y llvm: %w", err)}
	}
	args := []string{"-march=nvptx64", "-o", "-"}
	if c.CPU != "" {
		args = append(args, "-mcpu="+c.CPU)
	}
	if c.PrintCommands && c.Echo != nil {
		c.Echo(bin + " " + strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = strings.NewReader(llvmIR)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &Error{Stage: StageCompile, Err: err}
	}
	return stdout.String(), nil
}
