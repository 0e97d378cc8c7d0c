package searchhist

import (
	"context"
	"testing"
	"time"
)

func TestCreatePlaceholder_IDsIncrease(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	id1, err := m.CreatePlaceholder(ctx, 7, "product=Widget")
	if err != nil {
		t.Fatalf("CreatePlaceholder: %v", err)
	}
	id2, err := m.CreatePlaceholder(ctx, 7, "product=Gadget")
	if err != nil {
		t.Fatalf("CreatePlaceholder: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d then %d", id1, id2)
	}
}

func TestExists_ScopedToOwner(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	id, err := m.CreatePlaceholder(ctx, 7, "product=Widget")
	if err != nil {
		t.Fatalf("CreatePlaceholder: %v", err)
	}

	if !m.Exists(ctx, 7, id) {
		t.Fatal("owner should see their placeholder")
	}
	if m.Exists(ctx, 8, id) {
		t.Fatal("placeholder leaked to another user")
	}
	if m.Exists(ctx, 7, id+100) {
		t.Fatal("unknown id reported as existing")
	}
}

func TestGet_ReturnsStoredQuery(t *testing.T) {
	m := NewMemory(time.Minute)
	id, err := m.CreatePlaceholder(context.Background(), 3, "bug_status=NEW")
	if err != nil {
		t.Fatalf("CreatePlaceholder: %v", err)
	}

	e, ok := m.Get(3, id)
	if !ok {
		t.Fatal("Get did not find the entry")
	}
	if e.Query != "bug_status=NEW" {
		t.Fatalf("Query = %q, want bug_status=NEW", e.Query)
	}
	if e.Token == "" {
		t.Fatal("expected a correlation token")
	}
}
