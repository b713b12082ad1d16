package observ

import (
	"strings"
	"testing"
)

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	a := tm.Begin("instantiate")
	tm.End(a, "3 clones")
	b := tm.Begin("emit")
	tm.End(b, "")
	tm.End(42, "ignored")

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("phases: got=%d want=2", len(r.Phases))
	}
	if r.Phases[0].Note != "3 clones" {
		t.Fatalf("note: got=%q", r.Phases[0].Note)
	}
	if s := tm.Summary(); !strings.Contains(s, "instantiate") || !strings.Contains(s, "total") {
		t.Fatalf("summary:\n%s", s)
	}
}

func TestNilTimer(t *testing.T) {
	var tm *Timer
	tm.End(tm.Begin("x"), "")
	if len(tm.Report().Phases) != 0 {
		t.Fatal("nil timer must report nothing")
	}
}
