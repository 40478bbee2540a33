package storage

import (
	"testing"
	"time"
)

func TestReconciliationObjectPath(t *testing.T) {
	at := time.Date(2026, 3, 10, 23, 30, 0, 0, time.FixedZone("ART", -3*3600))
	path, err := ReconciliationObjectPath(at, "ord_123", "01HX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 23:30 ART is already the next UTC day.
	expected := "reconciliation/2026-03-11/ord_123-01HX.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestReconciliationObjectPathWithoutOrder(t *testing.T) {
	path, err := ReconciliationObjectPath(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "", "01HX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "reconciliation/2026-03-10/unmatched-01HX.json" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestReconciliationObjectPathRejectsInvalidSegment(t *testing.T) {
	if _, err := ReconciliationObjectPath(time.Now(), "../bad", "01HX"); err == nil {
		t.Fatalf("expected error for invalid segment")
	}
	if _, err := ReconciliationObjectPath(time.Now(), "ord", ""); err == nil {
		t.Fatalf("expected error for missing record id")
	}
}

func TestParseReconciliationDay(t *testing.T) {
	day, err := ParseReconciliationDay("2026-03-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ReconciliationPrefix(day) != "reconciliation/2026-03-10/" {
		t.Fatalf("unexpected prefix %s", ReconciliationPrefix(day))
	}
	if _, err := ParseReconciliationDay("10/03/2026"); err == nil {
		t.Fatalf("expected error for bad format")
	}
}
