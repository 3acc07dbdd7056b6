package usecase

import "context"

// SendMessageNotification implements spec.md section 4.5.8: announce a new
// commit to every other member of a conversation so they can fetch it.
// Grounded on internal/domains/group/usecase/message_fanout_service.go's
// per-recipient dedup shape, simplified to a single last-sent-commit marker
// per peer and conversation since there is no per-message delivery-status
// ledger here.
func (m *Module) SendMessageNotification(ctx context.Context, convID, commitID string, includeSelfDevices bool) error {
	info, ok := m.ConvInfo(convID)
	if !ok {
		return ErrConversationUnknown
	}
	if m.sender == nil {
		return nil
	}

	for _, peer := range info.Members {
		if peer == m.selfURI && !includeSelfDevices {
			continue
		}
		dedupKey := peer + "|" + convID

		m.sentMu.Lock()
		if m.sent[dedupKey] == commitID {
			m.sentMu.Unlock()
			continue
		}
		m.sent[dedupKey] = commitID
		m.sentMu.Unlock()

		if err := m.sender.Send(peer, "application/im-gitmessage-id", []byte(commitID)); err != nil {
			continue
		}
	}
	return nil
}
