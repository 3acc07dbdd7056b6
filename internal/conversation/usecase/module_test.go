package usecase

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/meshid-core/core/pkg/models"
)

func newTestModule(t *testing.T, repo *InMemoryRepoStore, channels *fakeChannels, selfURI string) (*Module, *recordingNotifier, *fakePersister, *recordingSender) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating device key: %v", err)
	}
	notifier := &recordingNotifier{}
	persister := &fakePersister{}
	sender := &recordingSender{}
	now := int64(1000)
	m := New(repo, channels, notifier, persister, sender, selfURI, "dev-self", priv, func() int64 { return now })
	return m, notifier, persister, sender
}

func TestCloneConversationRegistersProvisionalInfoAndStashesSocket(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, persister, _ := newTestModule(t, repo, channels, "alice@mesh")

	aSocket, _ := newFakeSocketPair("alice@mesh", "bob@mesh")
	channels.register("bob@mesh", aSocket)

	if err := m.CloneConversation(context.Background(), "bob-dev1", "bob@mesh", "conv1", ""); err != nil {
		t.Fatalf("CloneConversation: %v", err)
	}

	info, ok := m.ConvInfo("conv1")
	if !ok || !info.IsMember("alice@mesh") || !info.IsMember("bob@mesh") {
		t.Fatalf("expected a provisional conv_info with both members, got %+v ok=%v", info, ok)
	}
	if persister.infos == nil {
		t.Fatalf("expected conv_infos to be persisted")
	}

	m.pendingMu.Lock()
	_, hasSocket := m.sockets["conv1"]
	p := m.pending["conv1"]
	m.pendingMu.Unlock()
	if !hasSocket || !p.Ready {
		t.Fatalf("expected the fetched socket to be stashed and the pending entry marked ready")
	}
}

func TestCloneConversationIsANoOpWhenAlreadyKnown(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")

	aSocket, _ := newFakeSocketPair("alice@mesh", "bob@mesh")
	channels.register("bob@mesh", aSocket)
	if err := m.CloneConversation(context.Background(), "bob-dev1", "bob@mesh", "conv1", "msg-1"); err != nil {
		t.Fatalf("first clone: %v", err)
	}

	if err := m.CloneConversation(context.Background(), "bob-dev2", "bob@mesh", "conv1", "msg-2"); err != nil {
		t.Fatalf("second clone: %v", err)
	}
	info, _ := m.ConvInfo("conv1")
	if info.LastDisplayed != "msg-2" {
		t.Fatalf("expected last_displayed to be updated by the no-op path, got %q", info.LastDisplayed)
	}
}

func setJoinedConversation(m *Module, convID string, members []string, banned []string) {
	m.infoMu.Lock()
	m.infos[convID] = models.ConvInfo{ID: convID, Members: members, BannedDevices: banned}
	m.infoMu.Unlock()
	m.convMu.Lock()
	m.convs[convID] = &conversationState{info: m.infos[convID]}
	m.convMu.Unlock()
}

func TestFetchNewCommitsRejectsNonMember(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")
	setJoinedConversation(m, "conv1", []string{"alice@mesh"}, nil)

	err := m.FetchNewCommits(context.Background(), "mallory@mesh", "dev1", "conv1", "commit1")
	if err != ErrNotAMember {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestFetchNewCommitsRejectsBannedDevice(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")
	setJoinedConversation(m, "conv1", []string{"alice@mesh", "bob@mesh"}, []string{"bad-dev"})

	err := m.FetchNewCommits(context.Background(), "bob@mesh", "bad-dev", "conv1", "commit1")
	if err != ErrDeviceBanned {
		t.Fatalf("expected ErrDeviceBanned, got %v", err)
	}
}

func TestFetchNewCommitsDedupsConcurrentFetch(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")
	setJoinedConversation(m, "conv1", []string{"alice@mesh", "bob@mesh"}, nil)

	if _, ok := m.startFetch("conv1", "bob-dev1"); !ok {
		t.Fatalf("expected the first startFetch to succeed")
	}
	if _, ok := m.startFetch("conv1", "bob-dev1"); ok {
		t.Fatalf("expected a duplicate startFetch from the same device to be rejected")
	}
}
