package server

import "testing"

func TestMetricsSnapshot(t *testing.T) {
	m := &RelayMetrics{}
	m.IncConnected()
	m.IncConnected()
	m.IncDisconnected()
	m.AddDispatch(3000)
	m.AddDispatch(5000)

	s := m.Snapshot()
	if s["online"] != int64(1) {
		t.Errorf("online = %v, want 1", s["online"])
	}
	if s["avg_dispatch_us"] != 4.0 {
		t.Errorf("avg_dispatch_us = %v, want 4", s["avg_dispatch_us"])
	}
}
