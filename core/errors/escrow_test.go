package errors

import (
	"fmt"
	"testing"
)

func TestKindOfWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("offer 7: %w", ErrDeliveryTimeout)
	if got := KindOf(wrapped); got != KindTiming {
		t.Fatalf("expected timing kind, got %s", got)
	}
	if got := NameOf(wrapped); got != "DeliveryTimeout" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestKindOfUnknown(t *testing.T) {
	if got := KindOf(fmt.Errorf("disk full")); got != KindInternal {
		t.Fatalf("expected internal kind, got %s", got)
	}
	if NameOf(nil) != "Internal" {
		t.Fatalf("nil error should map to Internal")
	}
}

func TestTaxonomyNamesUnique(t *testing.T) {
	seen := make(map[string]struct{}, len(taxonomy))
	for _, entry := range taxonomy {
		if _, dup := seen[entry.name]; dup {
			t.Fatalf("duplicate rejection name %s", entry.name)
		}
		seen[entry.name] = struct{}{}
	}
}
