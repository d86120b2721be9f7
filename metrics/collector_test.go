package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("ble", "fs", "sess-001")

	c.IncPacketsReceived()
	c.IncPacketsReceived()
	c.IncPacketsWithoutRR()
	c.IncDecodeErrors()
	c.IncIBIsAccepted()
	c.IncIBIsAccepted()
	c.IncIBIsAccepted()
	c.IncIBIsCorrected()
	c.IncReversals()
	c.IncHRVClamped()
	c.IncConnectAttempts()
	c.IncConnectAttempts()
	c.IncConnectFailures()
	c.IncConnectRejected()
	c.IncSessionsStarted()
	c.IncLinkDrops()
	c.IncCleanupErrors()
	c.IncAdapterErrors()
	c.IncRecordErrors()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"PacketsReceived", s.PacketsReceived, 2},
		{"PacketsWithoutRR", s.PacketsWithoutRR, 1},
		{"DecodeErrors", s.DecodeErrors, 1},
		{"IBIsAccepted", s.IBIsAccepted, 3},
		{"IBIsCorrected", s.IBIsCorrected, 1},
		{"Reversals", s.Reversals, 1},
		{"HRVClamped", s.HRVClamped, 1},
		{"ConnectAttempts", s.ConnectAttempts, 2},
		{"ConnectFailures", s.ConnectFailures, 1},
		{"ConnectRejected", s.ConnectRejected, 1},
		{"SessionsStarted", s.SessionsStarted, 1},
		{"LinkDrops", s.LinkDrops, 1},
		{"CleanupErrors", s.CleanupErrors, 1},
		{"AdapterErrors", s.AdapterErrors, 1},
		{"RecordErrors", s.RecordErrors, 1},
		{"LodeWriteSuccess", s.LodeWriteSuccess, 2},
		{"LodeWriteFailure", s.LodeWriteFailure, 1},
	}
	for _, chk := range checks {
		if chk.got != chk.want {
			t.Errorf("%s = %d, want %d", chk.name, chk.got, chk.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("sim", "s3", "sess-42")
	s := c.Snapshot()

	if s.Transport != "sim" {
		t.Errorf("Transport = %q, want %q", s.Transport, "sim")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "sess-42")
	}
}

func TestCollector_AbsorbPolicyStats_MapIsolation(t *testing.T) {
	c := NewCollector("sim", "fs", "sess-001")

	original := map[string]int64{"status_update": 5}
	c.AbsorbPolicyStats(10, 5, 5, original)

	original["status_update"] = 999
	original["sensors_update"] = 100

	s := c.Snapshot()
	if s.EventsReceived != 10 || s.EventsPersisted != 5 || s.EventsDropped != 5 {
		t.Errorf("absorbed counters = %d/%d/%d, want 10/5/5", s.EventsReceived, s.EventsPersisted, s.EventsDropped)
	}
	if s.DroppedByType["status_update"] != 5 {
		t.Errorf("DroppedByType[status_update] = %d, want 5", s.DroppedByType["status_update"])
	}
	if _, exists := s.DroppedByType["sensors_update"]; exists {
		t.Error("DroppedByType should not contain entries added after absorption")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("sim", "fs", "sess-001")
	c.IncReversals()

	s1 := c.Snapshot()
	c.IncReversals()

	if s1.Reversals != 1 {
		t.Errorf("s1.Reversals = %d, want 1 (snapshot should be frozen)", s1.Reversals)
	}
	if s2 := c.Snapshot(); s2.Reversals != 2 {
		t.Errorf("s2.Reversals = %d, want 2", s2.Reversals)
	}
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector

	c.IncPacketsReceived()
	c.IncLinkDrops()
	c.AbsorbPolicyStats(1, 1, 0, nil)

	s := c.Snapshot()
	if s.PacketsReceived != 0 {
		t.Errorf("nil collector snapshot PacketsReceived = %d, want 0", s.PacketsReceived)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("sim", "fs", "sess-001")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncIBIsAccepted()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().IBIsAccepted; got != 5000 {
		t.Errorf("IBIsAccepted = %d, want 5000", got)
	}
}
