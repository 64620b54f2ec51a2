package partman

import (
	"reflect"
	"testing"

	"github.com/alertpart/partman/internal/store"
)

func TestComputeDeltaCorrectness(t *testing.T) {
	self := NodeId(1)
	other := NodeId(2)

	previous := store.Partition{
		{TenantID: "t1", TriggerID: "a"}: self,
		{TenantID: "t1", TriggerID: "b"}: self,
		{TenantID: "t2", TriggerID: "c"}: other,
	}
	current := store.Partition{
		{TenantID: "t1", TriggerID: "a"}: self,
		{TenantID: "t2", TriggerID: "c"}: self, // moved to self
		{TenantID: "t1", TriggerID: "b"}: other, // moved away from self
	}

	added, removed := computeDelta(previous, current, self)

	wantAdded := map[string][]string{"t2": {"c"}}
	wantRemoved := map[string][]string{"t1": {"b"}}

	if !reflect.DeepEqual(added, wantAdded) {
		t.Fatalf("added = %v, want %v", added, wantAdded)
	}
	if !reflect.DeepEqual(removed, wantRemoved) {
		t.Fatalf("removed = %v, want %v", removed, wantRemoved)
	}
}

func TestLocalTriggers(t *testing.T) {
	self := NodeId(1)
	part := store.Partition{
		{TenantID: "t1", TriggerID: "a"}: self,
		{TenantID: "t1", TriggerID: "b"}: self,
		{TenantID: "t2", TriggerID: "c"}: NodeId(2),
	}
	local := localTriggers(part, self)
	if len(local["t1"]) != 2 {
		t.Fatalf("expected 2 triggers under t1, got %v", local["t1"])
	}
	if len(local["t2"]) != 0 {
		t.Fatalf("expected no t2 triggers for self, got %v", local["t2"])
	}
}

func TestComputeDeltaNilPrevious(t *testing.T) {
	self := NodeId(1)
	current := store.Partition{
		{TenantID: "t1", TriggerID: "a"}: self,
	}
	added, removed := computeDelta(nil, current, self)
	if len(added["t1"]) != 1 || added["t1"][0] != "a" {
		t.Fatalf("expected a to be added from nil previous, got %v", added)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals, got %v", removed)
	}
}
