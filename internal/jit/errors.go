package jit

import (
	"fmt"
	"strings"
)

// NameResolutionMismatch reports discovered runtime types the bridge could
// not map. It is raised before any block is specialised.
type NameResolutionMismatch struct {
	Missing []string
}

func (e *NameResolutionMismatch) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cannot resolve %d runtime type(s): %s", len(e.Missing), strings.Join(e.Missing, ", "))
}
