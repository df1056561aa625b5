package dispatch

import (
	"testing"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.Record(capability.CapDetection, capability.TargetRemote, capability.StatusOK, 100*time.Millisecond)
	c.Record(capability.CapDetection, capability.TargetRemote, capability.StatusOK, 300*time.Millisecond)
	c.Record(capability.CapDetection, capability.TargetRemote, capability.StatusTimeout, 500*time.Millisecond)
	c.Record(capability.CapDetection, capability.TargetLocal, capability.StatusOK, 20*time.Millisecond)

	snap := c.Snapshot()

	remote, ok := snap["detection/remote"]
	if !ok {
		t.Fatal("missing detection/remote bucket")
	}
	if remote.Count != 3 {
		t.Errorf("Count = %d, want 3", remote.Count)
	}
	if remote.Failures != 1 {
		t.Errorf("Failures = %d, want 1", remote.Failures)
	}
	if remote.Average != 300*time.Millisecond {
		t.Errorf("Average = %v, want 300ms", remote.Average)
	}
	if remote.Min != 100*time.Millisecond {
		t.Errorf("Min = %v, want 100ms", remote.Min)
	}
	if remote.Max != 500*time.Millisecond {
		t.Errorf("Max = %v, want 500ms", remote.Max)
	}
	if remote.Last != 500*time.Millisecond {
		t.Errorf("Last = %v, want 500ms", remote.Last)
	}

	local, ok := snap["detection/local"]
	if !ok {
		t.Fatal("missing detection/local bucket")
	}
	if local.Count != 1 || local.Failures != 0 {
		t.Errorf("local bucket = %+v, want 1 clean sample", local)
	}
}

func TestCollectorRecent(t *testing.T) {
	c := NewCollector()
	c.Record(capability.Caption, capability.TargetRemote, capability.StatusOK, 1*time.Millisecond)
	c.Record(capability.OCR, capability.TargetRemote, capability.StatusOK, 2*time.Millisecond)
	c.Record(capability.ASR, capability.TargetRemote, capability.StatusOK, 3*time.Millisecond)

	recent := c.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].Capability != capability.ASR {
		t.Errorf("recent[0] = %s, want asr (newest first)", recent[0].Capability)
	}
	if recent[1].Capability != capability.OCR {
		t.Errorf("recent[1] = %s, want ocr", recent[1].Capability)
	}

	if got := len(c.Recent(100)); got != 3 {
		t.Errorf("Recent(100) len = %d, want 3", got)
	}
}

func TestCollectorWindowCap(t *testing.T) {
	c := NewCollector()
	for i := 0; i < historyCap+50; i++ {
		c.Record(capability.Caption, capability.TargetRemote, capability.StatusOK, time.Millisecond)
	}
	if got := len(c.Recent(historyCap * 2)); got != historyCap {
		t.Errorf("window length = %d, want %d", got, historyCap)
	}
}
