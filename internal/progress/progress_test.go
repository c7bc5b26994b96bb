package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogManager_StageLines(t *testing.T) {
	var buf bytes.Buffer
	m := &LogManager{out: &buf}

	tr := m.NewTracker(1, 3, "John Smith")
	tr.SetStage("resolving")
	tr.Done()

	out := buf.String()
	if !strings.Contains(out, "[2/3] John Smith  resolving") {
		t.Errorf("missing stage line in %q", out)
	}
	if !strings.Contains(out, "finished in") {
		t.Errorf("missing finish line in %q", out)
	}
}

func TestLogManager_OverallStatsThrottled(t *testing.T) {
	var buf bytes.Buffer
	m := &LogManager{out: &buf}

	m.SetOverallStats(1, 0, 0)
	m.SetOverallStats(2, 0, 0)

	if n := strings.Count(buf.String(), "progress:"); n != 1 {
		t.Errorf("expected 1 stats line, got %d: %q", n, buf.String())
	}
}

func TestNoopManager_Counts(t *testing.T) {
	m := &NoopManager{}
	for i := 0; i < 4; i++ {
		tr := m.NewTracker(i, 4, "x")
		tr.SetStage("resolving")
		tr.Done()
	}
	m.SetOverallStats(2, 1, 1)

	if m.Finished != 4 {
		t.Errorf("Finished = %d, want 4", m.Finished)
	}
	if m.Matched != 2 || m.NotFound != 1 || m.Failed != 1 {
		t.Errorf("unexpected stats %+v", m)
	}
}
