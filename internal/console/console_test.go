package console

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestPrinter_WritesThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	p := New(log.New(&buf, "[test] ", 0))
	p.Progress("Playing back episode: %s", "demo_1")
	p.Instruction("stack the cubes")
	p.Saved("/tmp/out.frames.zst")
	p.Fail("Episode %s failed to replay", "demo_2")

	out := buf.String()
	for _, want := range []string{
		"[test] ",
		"Playing back episode: demo_1",
		"Instruction: stack the cubes",
		"Saved video to /tmp/out.frames.zst",
		"Episode demo_2 failed to replay",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 4 {
		t.Fatalf("expected 4 lines, got %d", n)
	}
}

func TestPrinter_NilDrops(t *testing.T) {
	var p *Printer
	p.Progress("x")
	New(nil).Warn("y")
}
