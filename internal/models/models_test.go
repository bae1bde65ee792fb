package models

import (
	"testing"
	"time"
)

func TestActiveSlot(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	active := "s2"
	dangling := "missing"
	session := Session{
		Slots: []Slot{
			{SlotID: "s1", StartAt: start, EndAt: start.Add(30 * time.Minute)},
			{SlotID: "s2", StartAt: start.Add(30 * time.Minute), EndAt: start.Add(75 * time.Minute)},
		},
	}

	if _, ok := session.ActiveSlot(); ok {
		t.Fatal("expected no active slot without a reference")
	}
	session.ActiveSlotID = &dangling
	if _, ok := session.ActiveSlot(); ok {
		t.Fatal("expected dangling reference to resolve to nothing")
	}
	session.ActiveSlotID = &active
	slot, ok := session.ActiveSlot()
	if !ok || slot.SlotID != "s2" {
		t.Fatalf("expected slot s2, got %+v", slot)
	}
	if slot.Duration() != 45*time.Minute {
		t.Fatalf("expected 45m, got %s", slot.Duration())
	}
	if (Slot{StartAt: start, EndAt: start}).Duration() != 0 {
		t.Fatal("expected zero duration for an empty slot")
	}
}

func TestClaimMergeKeepsUnsetFields(t *testing.T) {
	approved := 2500.0
	notes := "verified at counter"
	claim := Claim{ClaimID: "C1", Message: "keep me", Currency: "LKR"}

	merged := claim.Merge(ClaimUpdate{ApprovedAmount: &approved, Notes: &notes})
	if merged.Message != "keep me" || merged.Currency != "LKR" {
		t.Fatalf("unset fields changed: %+v", merged)
	}
	if merged.ApprovedAmount == nil || *merged.ApprovedAmount != 2500 {
		t.Fatalf("approved amount not applied: %+v", merged.ApprovedAmount)
	}
	if merged.Notes != notes {
		t.Fatalf("expected notes %q, got %q", notes, merged.Notes)
	}

	approved = 1
	if *merged.ApprovedAmount != 2500 {
		t.Fatal("merge must copy amounts")
	}
}

func TestUpdateFromDraftRoundTrips(t *testing.T) {
	estimated := 100.0
	draft := Claim{
		ClaimID:         "C1",
		ClaimType:       "medical",
		Documents:       []ClaimDocument{{Name: "nic", Status: DocumentVerified}},
		EstimatedAmount: &estimated,
		Message:         "Approved",
	}
	got := Claim{ClaimID: "C1"}.Merge(UpdateFromDraft(draft))
	if got.ClaimType != "medical" || got.Message != "Approved" || len(got.Documents) != 1 {
		t.Fatalf("unexpected claim %+v", got)
	}
	if !DocumentNeedsReupload.Valid() || DocumentStatus("lost").Valid() {
		t.Fatal("unexpected document status validity")
	}
}
