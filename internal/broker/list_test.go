package broker

import (
	"encoding/json"
	"testing"
)

func TestListStreamCacheOrdering(t *testing.T) {
	s := NewListStream("/down/y")
	str := func(v string) json.RawMessage { b, _ := json.Marshal(v); return b }
	num := func(v int) json.RawMessage { b, _ := json.Marshal(v); return b }

	// Insert out of order; $base/$is must still come first, in order.
	s.PutCache("value", num(10))
	s.PutCache(AttrIs, str("node"))
	s.PutCache(AttrBase, str("/down"))

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	if snap[0].Key != AttrBase {
		t.Errorf("snap[0].Key = %q, want %q", snap[0].Key, AttrBase)
	}
	if snap[1].Key != AttrIs {
		t.Errorf("snap[1].Key = %q, want %q", snap[1].Key, AttrIs)
	}
	if snap[2].Key != "value" {
		t.Errorf("snap[2].Key = %q, want %q", snap[2].Key, "value")
	}
}

func TestListStreamDeleteCacheRemovesEntryAndOrder(t *testing.T) {
	s := NewListStream("/down/y")
	num := func(v int) json.RawMessage { b, _ := json.Marshal(v); return b }

	s.PutCache("a", num(1))
	s.PutCache("b", num(2))
	s.DeleteCache("a")

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Key != "b" {
		t.Errorf("snap = %v, want only [b]", snap)
	}
}

func TestListStreamResetForDisconnect(t *testing.T) {
	s := NewListStream("/down/y")
	num := func(v int) json.RawMessage { b, _ := json.Marshal(v); return b }
	s.PutCache(AttrIs, num(1))
	s.PutCache("value", num(2))

	s.ResetForDisconnect("2026-07-31T00:00:00.000Z")

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Key != AttrDisconnectedTs {
		t.Fatalf("snap = %v, want only [$disconnectedTs]", snap)
	}
	if !s.Disconnected {
		t.Error("expected Disconnected = true")
	}
}

func TestListStreamResetForReconnect(t *testing.T) {
	s := NewListStream("/down/y")
	s.ResetForDisconnect("T0")
	s.ResetForReconnect("/newpath")

	if s.Disconnected {
		t.Error("expected Disconnected = false after reconnect reset")
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Key != AttrBase {
		t.Fatalf("snap = %v, want only [$base]", snap)
	}
	var base string
	json.Unmarshal(snap[0].Value, &base)
	if base != "/newpath" {
		t.Errorf("base = %q, want /newpath", base)
	}
}

func TestListStreamAddRemoveClient(t *testing.T) {
	s := NewListStream("/x")
	s.AddClient("r1", 10)
	s.AddClient("r2", 20)

	if remaining := s.RemoveClient("r1"); remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
	if remaining := s.RemoveClient("r2"); remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}
