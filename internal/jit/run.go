package jit

import (
	"github.com/llir/llvm/ir"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/trace"
)

// ConcreteTypes discovers the runtime types carried by kernel and maps them
// through b. Any type b cannot map fails the whole call.
func ConcreteTypes(kernel any, d TypeDiscoverer, b Bridge) ([]cil.ConcreteType, error) {
	var (
		out     []cil.ConcreteType
		missing []string
	)
	for _, rt := range d.Discover(kernel) {
		ct, ok := b.Resolve(rt)
		if !ok {
			missing = append(missing, rt.String())
			continue
		}
		out = append(out, ct)
	}
	if len(missing) > 0 {
		return nil, &NameResolutionMismatch{Missing: missing}
	}
	return out, nil
}

// Run specialises changeSet for concrete, compiles it, and returns the
// function of kernel.
func (c *Converter) Run(changeSet []cfg.VertexID, concrete []cil.ConcreteType, kernel *cil.Method) (*ir.Func, error) {
	span := trace.Begin(c.ctx.tracer, trace.ScopeDriver, "jit", c.parent)
	defer span.End("")
	inner := NewConverter(c.ctx, span.ID())

	blocks, err := inner.InstantiateGenerics(changeSet, concrete)
	if err != nil {
		return nil, err
	}
	if err := inner.CompileToLLVM(blocks); err != nil {
		return nil, err
	}
	fn, _, err := inner.Kernel(kernel)
	return fn, err
}

// RunValue is Run with the concrete types taken from a kernel value.
func (c *Converter) RunValue(changeSet []cfg.VertexID, kernelValue any, d TypeDiscoverer, b Bridge, kernel *cil.Method) (*ir.Func, error) {
	concrete, err := ConcreteTypes(kernelValue, d, b)
	if err != nil {
		return nil, err
	}
	return c.Run(changeSet, concrete, kernel)
}
