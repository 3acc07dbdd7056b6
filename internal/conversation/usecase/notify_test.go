package usecase

import (
	"context"
	"testing"
)

func TestSendMessageNotificationFansOutToOtherMembers(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, sender := newTestModule(t, repo, channels, "alice@mesh")
	setJoinedConversation(m, "conv1", []string{"alice@mesh", "bob@mesh", "carol@mesh"}, nil)

	if err := m.SendMessageNotification(context.Background(), "conv1", "commit1", false); err != nil {
		t.Fatalf("SendMessageNotification: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected exactly the two non-self members to be notified, got %d", len(sender.sent))
	}
	for _, msg := range sender.sent {
		if msg.peerURI == "alice@mesh" {
			t.Fatalf("did not expect self to be notified when includeSelfDevices is false")
		}
	}
}

func TestSendMessageNotificationDedupsSameCommit(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, sender := newTestModule(t, repo, channels, "alice@mesh")
	setJoinedConversation(m, "conv1", []string{"alice@mesh", "bob@mesh"}, nil)

	m.SendMessageNotification(context.Background(), "conv1", "commit1", false)
	m.SendMessageNotification(context.Background(), "conv1", "commit1", false)

	if len(sender.sent) != 1 {
		t.Fatalf("expected the repeated notification for the same commit to be deduped, got %d sends", len(sender.sent))
	}
}

func TestSendMessageNotificationUnknownConversationFails(t *testing.T) {
	repo := NewInMemoryRepoStore()
	channels := newFakeChannels()
	m, _, _, _ := newTestModule(t, repo, channels, "alice@mesh")

	if err := m.SendMessageNotification(context.Background(), "does-not-exist", "commit1", false); err != ErrConversationUnknown {
		t.Fatalf("expected ErrConversationUnknown, got %v", err)
	}
}
