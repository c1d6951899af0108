package types

import (
	"encoding/json"
	"testing"
)

func TestNewEventGeneratesUniqueIDs(t *testing.T) {
	a := NewEvent("User", "1", Update)
	b := NewEvent("User", "1", Update)

	if a.EventID == "" {
		t.Fatal("EventID should be generated at creation")
	}
	if a.EventID == b.EventID {
		t.Fatalf("EventIDs should be unique, both were %s", a.EventID)
	}
	if a.Timestamp == 0 {
		t.Fatal("Timestamp should be stamped at creation")
	}
}

func TestWithNodeDoesNotMutateOriginal(t *testing.T) {
	original := NewEvent("User", "42", Update)

	stamped := original.WithNode("node-a")

	if original.NodeID != "" {
		t.Fatalf("original event was mutated, NodeID=%s", original.NodeID)
	}
	if stamped.NodeID != "node-a" {
		t.Fatalf("expected stamped NodeID 'node-a', got %s", stamped.NodeID)
	}
	if stamped.EventID != original.EventID {
		t.Fatal("stamping must preserve the event id")
	}
}

func TestIsHeartbeat(t *testing.T) {
	hb := NewHeartbeat("node-a")
	if !hb.IsHeartbeat() {
		t.Fatal("heartbeat event should report IsHeartbeat")
	}
	if hb.Operation != Ping {
		t.Fatalf("expected PING operation, got %s", hb.Operation)
	}
	if hb.EntityClass != HeartbeatClass {
		t.Fatalf("expected %s class, got %s", HeartbeatClass, hb.EntityClass)
	}

	ev := NewEvent("User", "1", Delete)
	if ev.IsHeartbeat() {
		t.Fatal("eviction event should not report IsHeartbeat")
	}
}

func TestTargetsFullClass(t *testing.T) {
	if !NewEvent("User", "", BulkUpdate).TargetsFullClass() {
		t.Fatal("event without id should target the full class")
	}
	if NewEvent("User", "1", Update).TargetsFullClass() {
		t.Fatal("event with id should not target the full class")
	}
	if NewRegionEvent("query.users", BulkUpdate).TargetsFullClass() {
		t.Fatal("region event should not target the full class")
	}
}

func TestUnmarshalToleratesUnknownFields(t *testing.T) {
	payload := `{"entityClass":"User","entityId":"42","operation":"UPDATE","nodeId":"node-b","timestamp":1,"eventId":"e1","futureField":{"x":1}}`

	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		t.Fatalf("unknown fields must be tolerated: %v", err)
	}
	if event.EntityClass != "User" || event.EntityID != "42" {
		t.Fatalf("unexpected decode result: %+v", event)
	}
}
