package bucket

import "testing"

func TestLoadIndexOrdering(t *testing.T) {
	idx := NewLoadIndex(map[NodeId]int{
		1000: 3,
		2000: 1,
		3000: 5,
	})

	least := idx.Least(2)
	if len(least) != 2 || least[0] != 2000 || least[1] != 1000 {
		t.Fatalf("unexpected least-loaded order: %v", least)
	}

	most := idx.Most(2)
	if len(most) != 2 || most[0] != 3000 || most[1] != 1000 {
		t.Fatalf("unexpected most-loaded order: %v", most)
	}

	if idx.Count(3000) != 5 {
		t.Fatalf("expected count 5 for node 3000, got %d", idx.Count(3000))
	}
}
