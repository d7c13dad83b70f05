package debugger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/replay"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func sessionTrace() *trace.Trace {
	b := trace.NewBuilder()
	create := b.Append(trace.Call, "Scene.createMesh", trace.CallRecord{
		Seq:  0,
		Args: []codec.Tag{codec.RefTag("Scene", 0), codec.PrimitiveTag("box")},
	})
	create.SetReturn(codec.RefTag("Mesh", 0))
	move := b.Append(trace.Call, "Mesh.setPosition", trace.CallRecord{
		Seq:  1,
		Args: []codec.Tag{codec.RefTag("Mesh", 0), codec.PrimitiveTag(int64(4))},
	})
	move.SetReturn(codec.AbsentTag())
	hide := b.Append(trace.Call, "Mesh.setVisible", trace.CallRecord{
		Seq:  2,
		Args: []codec.Tag{codec.RefTag("Mesh", 0), codec.PrimitiveTag(false)},
	})
	hide.SetReturn(codec.AbsentTag())
	return b.Build()
}

func runCLI(t *testing.T, script string) string {
	t.Helper()
	bm := replay.NewBreakpointManager()
	r, err := replay.NewDryRun(sessionTrace(), replay.WithBreakpoints(bm), replay.WithSessionID("test"))
	if err != nil {
		t.Fatalf("Failed to create dry run: %v", err)
	}
	var out bytes.Buffer
	NewCLI(r, bm, &out).Start(context.Background(), strings.NewReader(script))
	return out.String()
}

func TestCLIStepAndInfo(t *testing.T) {
	out := runCLI(t, "step\ninfo\nquit\n")

	if !strings.Contains(out, "Step: #0 seq=0 Scene.createMesh(Scene#0, box) -> Mesh#0") {
		t.Errorf("Expected first step in output, got:\n%s", out)
	}
	if !strings.Contains(out, "State: running, position 0 of 3") {
		t.Errorf("Expected running state in output, got:\n%s", out)
	}
	if !strings.Contains(out, "Next step: #1 seq=1 Mesh.setPosition") {
		t.Errorf("Expected next step in output, got:\n%s", out)
	}
}

func TestCLIBreakpointAndContinue(t *testing.T) {
	out := runCLI(t, "bp method:Mesh.setVisible\nc\nl\nc\n")

	if !strings.Contains(out, "Breakpoint 1 set at method:Mesh.setVisible") {
		t.Errorf("Expected breakpoint confirmation, got:\n%s", out)
	}
	if !strings.Contains(out, "Stopped before: #2 seq=2 Mesh.setVisible") {
		t.Errorf("Expected stop before setVisible, got:\n%s", out)
	}
	if !strings.Contains(out, "1: method:Mesh.setVisible [enabled] hits=1") {
		t.Errorf("Expected breakpoint listing, got:\n%s", out)
	}
	if !strings.Contains(out, "Replay finished") || !strings.Contains(out, "Replay is faithful") {
		t.Errorf("Expected clean finish, got:\n%s", out)
	}
}

func TestCLIBreakpointManagement(t *testing.T) {
	out := runCLI(t, "bp type:Mesh\nbp disable 1\nbp enable 1\nbp remove 1\nbp remove 1\nbp step:x\nbogus\n")

	for _, want := range []string{
		"Disabled breakpoint 1",
		"Enabled breakpoint 1",
		"Removed breakpoint 1",
		"Error: ",
		"Error setting breakpoint",
		"Unknown command: bogus",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestCLIStepPastEnd(t *testing.T) {
	out := runCLI(t, "s\ns\ns\ns\nreport\n")
	if !strings.Contains(out, "End of trace") {
		t.Errorf("Expected end of trace, got:\n%s", out)
	}
	if !strings.Contains(out, "Session test: ended, 3 steps") {
		t.Errorf("Expected report, got:\n%s", out)
	}
}

func TestPrintReportDivergences(t *testing.T) {
	b := trace.NewBuilder()
	b.Append(trace.Call, "Mesh.setPosition", trace.CallRecord{
		Seq:  0,
		Args: []codec.Tag{codec.RefTag("Mesh", 1)},
	}).SetReturn(codec.AbsentTag())
	b.Append(trace.Call, "Scene.createMesh", trace.CallRecord{Seq: 1}).SetReturn(codec.RefTag("Mesh", 1))

	report, err := replay.DryRun(context.Background(), b.Build())
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	var out bytes.Buffer
	PrintReport(&out, report)
	if !strings.Contains(out.String(), "divergence:") {
		t.Errorf("Expected divergence line, got:\n%s", out.String())
	}
}
