package models

import "testing"

func TestConvInfoRemovedAndErased(t *testing.T) {
	c := ConvInfo{ID: "c1"}
	if c.IsRemoved() || c.IsErased() {
		t.Fatalf("fresh ConvInfo must be neither removed nor erased")
	}
	c.RemovedAt = 100
	if !c.IsRemoved() {
		t.Fatalf("expected removed once RemovedAt is set")
	}
	if c.IsErased() {
		t.Fatalf("removed does not imply erased")
	}
	c.ErasedAt = 200
	if !c.IsErased() {
		t.Fatalf("expected erased once ErasedAt is set")
	}
}

func TestConversationRequestDeclined(t *testing.T) {
	r := ConversationRequest{ConversationID: "c1", From: "u1"}
	if r.IsDeclined() {
		t.Fatalf("fresh request must not be declined")
	}
	r.DeclinedAt = 42
	if !r.IsDeclined() {
		t.Fatalf("expected declined once DeclinedAt is set")
	}
}
