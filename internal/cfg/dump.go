package cfg

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes one line per block in id order, followed by its instructions
// when withCode is set.
func (g *Graph) Dump(w io.Writer, withCode bool) error {
	for _, v := range g.vertices {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s", v.ID)
		if v.Method != nil {
			fmt.Fprintf(&sb, " [%s]", v.Method.Name)
		}
		if v.Label != "" {
			fmt.Fprintf(&sb, " %s:", v.Label)
		}
		fmt.Fprintf(&sb, " entry=%s", v.Entry)
		if v.Previous != NoVertex {
			fmt.Fprintf(&sb, " prev=%s op=%s", v.Previous, v.OpFromPrevious)
		}
		if len(v.OpsFromOriginal) > 0 {
			fmt.Fprintf(&sb, " ops=%s", v.OpsFromOriginal)
		}
		if !g.IsFullyInstantiated(v.ID) {
			sb.WriteString(" (generic)")
		}
		if v.StackLevelIn != nil && v.StackLevelOut != nil {
			fmt.Fprintf(&sb, " stack=%d→%d", *v.StackLevelIn, *v.StackLevelOut)
		}
		if succ := g.Successors(v.ID); len(succ) > 0 {
			names := make([]string, len(succ))
			for i, s := range succ {
				names[i] = s.String()
			}
			fmt.Fprintf(&sb, " -> %s", strings.Join(names, ", "))
		}
		sb.WriteByte('\n')
		if withCode {
			for _, inst := range v.Instructions {
				fmt.Fprintf(&sb, "    %s\n", inst)
			}
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}
