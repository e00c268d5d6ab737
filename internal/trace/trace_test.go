package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelError, ScopeDriver, true},
		{LevelError, ScopeRun, false},
		{LevelPhase, ScopeRun, true},
		{LevelPhase, ScopeFragment, false},
		{LevelDetail, ScopeFragment, true},
		{LevelDebug, ScopeFragment, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"off", "error", "phase", "detail", "debug"} {
		l, err := ParseLevel(strings.ToUpper(s))
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
		if l.String() != s {
			t.Fatalf("ParseLevel(%q) = %s", s, l)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestRingTracer_Wraps(t *testing.T) {
	ring := NewRingTracer(3, LevelDetail)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(ring, ScopeRun, name, "", 0)
	}
	events := ring.Snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []string{"c", "d", "e"} {
		if events[i].Name != want {
			t.Fatalf("events[%d] = %q, want %q", i, events[i].Name, want)
		}
	}
	if events[2].Seq != 5 {
		t.Fatalf("last seq = %d, want 5", events[2].Seq)
	}
}

func TestRingTracer_FiltersScope(t *testing.T) {
	ring := NewRingTracer(8, LevelPhase)
	Point(ring, ScopeRun, "kept", "", 0)
	Point(ring, ScopeFragment, "dropped", "", 0)
	if events := ring.Snapshot(); len(events) != 1 || events[0].Name != "kept" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSpanParenting(t *testing.T) {
	ring := NewRingTracer(16, LevelDetail)
	root := Begin(ring, ScopeRun, "assemble", 0)
	Point(ring, ScopeFragment, "fragment.open", "id=0", root.ID())
	root.WithExtra("plan", "gen.toml").End("ok")

	events := ring.Snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Kind != KindSpanBegin || events[2].Kind != KindSpanEnd {
		t.Fatalf("kinds = %s, %s", events[0].Kind, events[2].Kind)
	}
	if events[1].ParentID != root.ID() {
		t.Fatalf("point parent = %d, want %d", events[1].ParentID, root.ID())
	}
	if events[2].Extra["plan"] != "gen.toml" {
		t.Fatalf("end extra = %v", events[2].Extra)
	}
}

func TestDisabledSpanKeepsParent(t *testing.T) {
	ring := NewRingTracer(16, LevelError)
	span := Begin(ring, ScopeRun, "assemble", 7)
	if span.ID() != 7 {
		t.Fatalf("disabled span ID = %d, want parent 7", span.ID())
	}
	span.End("ok")
	if n := len(ring.Snapshot()); n != 0 {
		t.Fatalf("disabled span emitted %d events", n)
	}
}

func TestStreamTracer_Formats(t *testing.T) {
	var text bytes.Buffer
	st := NewStreamTracer(&text, LevelPhase, FormatText)
	span := Begin(st, ScopeRun, "combine", 0).WithExtra("b", "2").WithExtra("a", "1")
	span.End("3 fragments")
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), text.String())
	}
	if !strings.Contains(lines[1], "← combine (3 fragments) {a=1, b=2}") {
		t.Fatalf("end line = %q", lines[1])
	}

	var nd bytes.Buffer
	st = NewStreamTracer(&nd, LevelPhase, FormatNDJSON)
	Point(st, ScopeDriver, "start", "", 0)
	var decoded map[string]any
	if err := json.Unmarshal(nd.Bytes(), &decoded); err != nil {
		t.Fatalf("ndjson: %v", err)
	}
	if decoded["name"] != "start" || decoded["scope"] != "driver" || decoded["kind"] != "point" {
		t.Fatalf("decoded = %v", decoded)
	}
}

func TestNew(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr != Nop {
		t.Fatalf("New(off) = %v, %v", tr, err)
	}

	path := filepath.Join(t.TempDir(), "run.ndjson")
	tr, err = New(Config{Level: LevelPhase, Mode: ModeBoth, OutputPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	multi, ok := tr.(*MultiTracer)
	if !ok || multi.Ring() == nil {
		t.Fatalf("tracer = %T, want multi with ring", tr)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := New(Config{Level: LevelPhase}); err == nil {
		t.Fatal("expected error for missing mode")
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatal("empty context should carry Nop")
	}
	ring := NewRingTracer(4, LevelPhase)
	ctx := WithSpan(WithTracer(context.Background(), ring), 42)
	if FromContext(ctx) != ring {
		t.Fatal("tracer not propagated")
	}
	if CurrentSpan(ctx) != 42 {
		t.Fatalf("CurrentSpan = %d", CurrentSpan(ctx))
	}
}

func TestMultiTracer_FansOut(t *testing.T) {
	a := NewRingTracer(4, LevelPhase)
	b := NewRingTracer(4, LevelDetail)
	multi := NewMultiTracer(LevelDetail, a, b)
	Point(multi, ScopeFragment, "fragment.open", "id=0", 0)
	Point(multi, ScopeRun, "combine", "", 0)

	if n := len(a.Snapshot()); n != 1 {
		t.Fatalf("phase ring kept %d events, want 1", n)
	}
	if n := len(b.Snapshot()); n != 2 {
		t.Fatalf("detail ring kept %d events, want 2", n)
	}
	if multi.Ring() != a {
		t.Fatal("Ring() should return the first ring")
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
