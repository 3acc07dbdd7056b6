package domain

import (
	"testing"

	"github.com/meshid-core/core/pkg/models"
)

func TestDecideSyncActionOlderRemovedIsIgnored(t *testing.T) {
	local := models.ConvInfo{ID: "c1", RemovedAt: 200}
	incoming := models.ConvInfo{ID: "c1", CreatedAt: 150}
	if got := DecideSyncAction(local, true, incoming); got != ActionIgnore {
		t.Fatalf("expected ActionIgnore for an older re-creation, got %v", got)
	}
}

func TestDecideSyncActionNewerCreatedReclones(t *testing.T) {
	local := models.ConvInfo{ID: "c1", RemovedAt: 200}
	incoming := models.ConvInfo{ID: "c1", CreatedAt: 300}
	if got := DecideSyncAction(local, true, incoming); got != ActionClone {
		t.Fatalf("expected ActionClone for a newer re-creation, got %v", got)
	}
}

func TestDecideSyncActionRemovedWithoutErase(t *testing.T) {
	incoming := models.ConvInfo{ID: "c1", CreatedAt: 10, RemovedAt: 20}
	if got := DecideSyncAction(models.ConvInfo{}, false, incoming); got != ActionSoftRemove {
		t.Fatalf("expected ActionSoftRemove, got %v", got)
	}
}

func TestDecideSyncActionErasedSchedulesDeletion(t *testing.T) {
	incoming := models.ConvInfo{ID: "c1", CreatedAt: 10, RemovedAt: 20, ErasedAt: 25}
	if got := DecideSyncAction(models.ConvInfo{}, false, incoming); got != ActionEraseRepo {
		t.Fatalf("expected ActionEraseRepo, got %v", got)
	}
}

func TestShouldAcceptRequestGates(t *testing.T) {
	if !ShouldAcceptRequest(false, false, false) {
		t.Fatalf("expected a fresh request from a non-contact to be accepted")
	}
	if ShouldAcceptRequest(true, false, false) {
		t.Fatalf("expected an active 1:1 to suppress a new request")
	}
	if ShouldAcceptRequest(false, true, false) {
		t.Fatalf("expected an already-known conversation to suppress a new request")
	}
	if ShouldAcceptRequest(false, false, true) {
		t.Fatalf("expected an already-pending request to suppress a duplicate")
	}
}

func TestMergeConversationRequestDeclineWithNewerReceivedStaysDeclined(t *testing.T) {
	local := models.ConversationRequest{ConversationID: "c1", ReceivedAt: 10, DeclinedAt: 20}
	incoming := models.ConversationRequest{ConversationID: "c1", ReceivedAt: 30, DeclinedAt: 0}
	merged := MergeConversationRequest(local, true, incoming)
	if !merged.IsDeclined() {
		t.Fatalf("expected the request to remain declined per the documented tie-break")
	}
	if merged.ReceivedAt != 30 {
		t.Fatalf("expected the newer received_ts to still be recorded")
	}
}

func TestLastDisplayedWinnerNewerEpochWins(t *testing.T) {
	live := models.LastDisplayedEntry{MessageID: "a", Epoch: 5}
	incoming := models.LastDisplayedEntry{MessageID: "b", Epoch: 10}
	if got := LastDisplayedWinner(live, incoming); got.MessageID != "b" {
		t.Fatalf("expected the newer epoch to win")
	}
}

func TestLastDisplayedWinnerTieKeepsLive(t *testing.T) {
	live := models.LastDisplayedEntry{MessageID: "a", Epoch: 5}
	incoming := models.LastDisplayedEntry{MessageID: "b", Epoch: 5}
	if got := LastDisplayedWinner(live, incoming); got.MessageID != "a" {
		t.Fatalf("expected a tie to keep the live value")
	}
}
