// Package device turns a finished LLVM module into PTX and hands it to a
// loader.
package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/llir/llvm/ir"

	"cilgpu/internal/layout"
)

// Serialize renders m for triple with kernel tagged as a kernel entry in
// !nvvm.annotations. The module's triple and data layout are overwritten.
func Serialize(m *ir.Module, kernel *ir.Func, triple string) (string, error) {
	if kernel == nil {
		return "", &Error{Stage: StageSerialize, Err: fmt.Errorf("no kernel function")}
	}
	target, ok := layout.TargetByTriple(triple)
	if !ok {
		return "", &Error{Stage: StageSerialize, Err: fmt.Errorf("unknown target %q", triple)}
	}
	m.TargetTriple = target.Triple
	m.DataLayout = target.DataLayout

	var sb strings.Builder
	sb.WriteString(m.String())
	id := len(m.MetadataDefs)
	fmt.Fprintf(&sb, "\n!nvvm.annotations = !{!%d}\n", id)
	fmt.Fprintf(&sb, "!%d = !{%s %s, !\"kernel\", i32 1}\n", id, kernel.Type(), kernel.Ident())
	return sb.String(), nil
}

var ptxVersion = regexp.MustCompile(`(?m)^([ \t]*\.version[ \t]+)3\.2[ \t]*$`)

// PatchVersion raises a PTX ISA 3.2 header to 5.0, which current drivers
// require.
func PatchVersion(ptx string) string {
	return ptxVersion.ReplaceAllString(ptx, "${1}5.0")
}
