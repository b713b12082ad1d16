// Package trace records what the JIT passes do.
//
// Events are grouped by scope: the driver (CLI, pipeline), a pass
// (instantiation, reachability, stack levels, emission, codegen), a single
// basic block, or a single node (a type lowering, an instruction).
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "stacklevel", 0)
//	defer span.End("")
//
// Console dumps that exist for humans (instruction trace, module dump, name
// table, PTX) are gated separately by Flags and never change compilation.
package trace
