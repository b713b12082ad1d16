package trace

import (
	"fmt"
	"slices"
	"strings"
)

// Flags select human-oriented console dumps. They are observational only.
type Flags uint8

const (
	FlagJIT       Flags = 1 << iota // per-instruction trace during emission
	FlagState                       // StateIn/StateOut of every block
	FlagModule                      // final LLVM module text
	FlagNameTable                   // legalised name table
	FlagPTX                         // PTX produced by the device compiler

	FlagsAll = FlagJIT | FlagState | FlagModule | FlagNameTable | FlagPTX
)

var flagNames = map[string]Flags{
	"jit-trace":   FlagJIT,
	"state-trace": FlagState,
	"module-dump": FlagModule,
	"name-table":  FlagNameTable,
	"ptx-trace":   FlagPTX,
	"all":         FlagsAll,
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 && f2 != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for name, bit := range flagNames {
		if bit != FlagsAll && f.Has(bit) {
			parts = append(parts, name)
		}
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}

// ParseFlags parses a comma-separated list such as "jit-trace,ptx-trace".
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" || part == "none" {
			continue
		}
		bit, ok := flagNames[part]
		if !ok {
			return 0, fmt.Errorf("invalid trace flag: %q (expected: jit-trace|state-trace|module-dump|name-table|ptx-trace|all)", part)
		}
		f |= bit
	}
	return f, nil
}
