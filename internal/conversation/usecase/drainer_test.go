package usecase

import (
	"context"
	"testing"

	"github.com/meshid-core/core/pkg/models"
)

func TestDrainOnceMaterializesReadyPendingConversation(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, notifier, _, sender := newTestModule(t, repo, channels, "alice@mesh")

	aSocket, bSocket := newFakeSocketPair("alice@mesh", "bob@mesh")
	_ = bSocket
	channels.register("bob@mesh", aSocket)

	if err := m.CloneConversation(context.Background(), "bob-dev1", "bob@mesh", "conv1", "msg-1"); err != nil {
		t.Fatalf("CloneConversation: %v", err)
	}

	m.DrainOnce(context.Background())

	if !m.IsJoined("conv1") {
		t.Fatalf("expected conv1 to be fully materialized after draining")
	}
	if !repo.Cloned("conv1") {
		t.Fatalf("expected RepoStore.Clone to have been invoked")
	}
	if len(repo.Commits("conv1")) == 0 {
		t.Fatalf("expected a join commit to have been recorded")
	}
	if !notifier.has(models.EventConversationReady) {
		t.Fatalf("expected a conversationReady event")
	}
	if len(sender.sent) == 0 {
		t.Fatalf("expected a profile card request to be sent to the peer")
	}

	m.pendingMu.Lock()
	_, stillPending := m.pending["conv1"]
	m.pendingMu.Unlock()
	if stillPending {
		t.Fatalf("expected the pending entry to be cleared once joined")
	}
}

func TestDrainOnceErasesWhenSelfIsNotAMember(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")

	aSocket, _ := newFakeSocketPair("alice@mesh", "bob@mesh")
	channels.register("bob@mesh", aSocket)

	m.infoMu.Lock()
	m.infos["conv1"] = models.ConvInfo{ID: "conv1", Members: []string{"bob@mesh", "carol@mesh"}}
	m.infoMu.Unlock()
	if _, ok := m.startFetch("conv1", "bob-dev1"); !ok {
		t.Fatalf("startFetch should succeed")
	}
	handle := m.socketArena.Insert(aSocket)
	m.pendingMu.Lock()
	m.pending["conv1"].Ready = true
	m.sockets["conv1"] = handle
	m.pendingMu.Unlock()

	m.DrainOnce(context.Background())

	if m.IsJoined("conv1") {
		t.Fatalf("expected conv1 to never join when self is not a member")
	}
	if !repo.Erased("conv1") {
		t.Fatalf("expected the repo to be erased when self is not a member")
	}
}

func TestDrainOnceSkipsNotYetReadyEntries(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")

	m.pendingMu.Lock()
	m.pending["conv1"] = &models.PendingFetchState{ConversationID: "conv1", Ready: false}
	m.pendingMu.Unlock()

	m.DrainOnce(context.Background())

	if repo.Cloned("conv1") {
		t.Fatalf("did not expect a clone attempt for a not-yet-ready entry")
	}
}
