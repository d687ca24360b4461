package imagebuild

import (
	"fmt"
	"testing"
	"time"
)

func TestBuildLogAggregatorCollapsesRepeats(t *testing.T) {
	var emitted []string
	agg := newBuildLogAggregator(func(line string) { emitted = append(emitted, line) })
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	agg.Add("Step 1/3")
	agg.Add("waiting")
	agg.Add("waiting")
	agg.Add("waiting")
	agg.Add("Step 2/3")
	agg.Flush()

	want := []string{"Step 1/3", "waiting", "waiting (repeated 2 more times)", "Step 2/3"}
	if len(emitted) != len(want) {
		t.Fatalf("expected %v got %v", want, emitted)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Fatalf("line %d: expected %q got %q", i, want[i], emitted[i])
		}
	}
}

func TestBuildLogAggregatorFlushesLongRepeats(t *testing.T) {
	var emitted []string
	agg := newBuildLogAggregator(func(line string) { emitted = append(emitted, line) })
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	agg.Add("downloading")
	now = now.Add(buildLogRepeatFlushInterval)
	agg.Add("downloading")

	if len(emitted) != 2 || emitted[1] != "downloading (repeated 1 more times)" {
		t.Fatalf("expected periodic repeat flush, got %v", emitted)
	}
}

func TestBuildLogAggregatorSnapshotKeepsTail(t *testing.T) {
	agg := newBuildLogAggregator(nil)
	for i := 0; i < buildLogBufferSize+10; i++ {
		agg.Add(fmt.Sprintf("line %d", i))
	}
	all := agg.Snapshot(0)
	if len(all) != buildLogBufferSize || all[0] != "line 10" {
		t.Fatalf("unexpected buffer head %v", all[:1])
	}
	tail := agg.Snapshot(3)
	if len(tail) != 3 || tail[2] != fmt.Sprintf("line %d", buildLogBufferSize+9) {
		t.Fatalf("unexpected tail %v", tail)
	}
}
