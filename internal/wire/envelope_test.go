package wire

import (
	"encoding/json"
	"testing"
)

func TestListUpdateRoundTrip(t *testing.T) {
	val, _ := json.Marshal(42)
	entry := ListUpdate("value", val)

	key, gotVal, ok := ParseListUpdate(entry)
	if !ok {
		t.Fatal("ParseListUpdate returned ok=false")
	}
	if key != "value" {
		t.Errorf("key = %q, want %q", key, "value")
	}
	if string(gotVal) != "42" {
		t.Errorf("value = %s, want 42", gotVal)
	}
}

func TestListUpdateRemoveSentinel(t *testing.T) {
	val, _ := json.Marshal(Removed)
	entry := ListUpdate("child", val)

	_, gotVal, ok := ParseListUpdate(entry)
	if !ok {
		t.Fatal("ParseListUpdate returned ok=false")
	}
	var s string
	if err := json.Unmarshal(gotVal, &s); err != nil || s != Removed {
		t.Errorf("value = %s, want %q", gotVal, Removed)
	}
}

func TestSubscribeUpdateRoundTrip(t *testing.T) {
	val, _ := json.Marshal(99)
	entry := SubscribeUpdate(7, val, "2026-07-31T00:00:00.000Z")

	sid, gotVal, ts, ok := ParseSubscribeUpdate(entry)
	if !ok {
		t.Fatal("ParseSubscribeUpdate returned ok=false")
	}
	if sid != 7 {
		t.Errorf("sid = %d, want 7", sid)
	}
	if string(gotVal) != "99" {
		t.Errorf("value = %s, want 99", gotVal)
	}
	if ts != "2026-07-31T00:00:00.000Z" {
		t.Errorf("ts = %q", ts)
	}
}

func TestParseListUpdateRejectsMalformed(t *testing.T) {
	if _, _, ok := ParseListUpdate(json.RawMessage(`"not-an-array"`)); ok {
		t.Error("expected ok=false for malformed entry")
	}
	if _, _, ok := ParseListUpdate(json.RawMessage(`[1]`)); ok {
		t.Error("expected ok=false for short entry")
	}
}
