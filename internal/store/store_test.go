package store

import (
	"errors"
	"testing"

	"sith/backend/internal/domain"
)

func typeIDs(types []domain.ProductType) []int64 {
	ids := make([]int64, 0, len(types))
	for _, t := range types {
		ids = append(ids, t.ID)
	}
	return ids
}

func equalIDs(a []int64, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMoveTypeAboveAndBelow(t *testing.T) {
	types := []domain.ProductType{
		{ID: 1, Order: 1}, {ID: 2, Order: 2}, {ID: 3, Order: 5}, {ID: 4, Order: 9},
	}

	out, err := MoveType(types, 4, 2, true)
	if err != nil {
		t.Fatalf("move above: %v", err)
	}
	if got := typeIDs(out); !equalIDs(got, []int64{1, 4, 2, 3}) {
		t.Fatalf("unexpected order %v", got)
	}
	for i, pt := range out {
		if pt.Order != i+1 {
			t.Fatalf("expected dense order, got %d at %d", pt.Order, i)
		}
	}

	out, err = MoveType(types, 1, 3, false)
	if err != nil {
		t.Fatalf("move below: %v", err)
	}
	if got := typeIDs(out); !equalIDs(got, []int64{2, 3, 1, 4}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestMoveTypeRejectsBadTargets(t *testing.T) {
	types := []domain.ProductType{{ID: 1, Order: 1}, {ID: 2, Order: 2}}
	if _, err := MoveType(types, 1, 1, true); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
	if _, err := MoveType(types, 1, 9, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDepositDeltas(t *testing.T) {
	returnables := []domain.ReturnableProduct{{ID: 10, ProductID: 3, ReturnedProductID: 4, MaxReturn: 2}}
	if d := DepositDeltas(returnables, 3, 2); d[10] != 2 {
		t.Fatalf("expected +2, got %v", d)
	}
	if d := DepositDeltas(returnables, 4, 3); d[10] != -3 {
		t.Fatalf("expected -3, got %v", d)
	}
	if d := DepositDeltas(returnables, 5, 3); len(d) != 0 {
		t.Fatalf("expected no delta, got %v", d)
	}
	merged := MergeDeltas(nil, map[int64]int{10: 2})
	merged = MergeDeltas(merged, map[int64]int{10: -3})
	if merged[10] != -1 {
		t.Fatalf("expected -1, got %v", merged)
	}
}
