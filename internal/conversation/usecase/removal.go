package usecase

import (
	"context"

	"github.com/meshid-core/core/pkg/models"
)

// RemoveConversation implements spec.md section 4.5.6: a conversation is
// always soft-removed first. A 1:1 conversation with a still-active peer
// commits a self-leave message and waits for the repo to age out instead of
// erasing immediately; any other case (never materialized, or no other
// active member left) erases the local repo right away.
func (m *Module) RemoveConversation(ctx context.Context, convID string) error {
	m.infoMu.Lock()
	info, ok := m.infos[convID]
	if !ok {
		m.infoMu.Unlock()
		return ErrConversationUnknown
	}
	info.RemovedAt = m.now()

	joined := m.IsJoined(convID)
	otherActiveMember := false
	if joined && len(info.Members) == 2 {
		for _, uri := range info.Members {
			if uri != m.selfURI {
				otherActiveMember = true
			}
		}
	}
	if !joined || !otherActiveMember {
		info.ErasedAt = m.now()
	}
	m.infos[convID] = info
	m.infoMu.Unlock()
	m.persistInfos()

	if joined && otherActiveMember {
		m.repo.Commit(ctx, convID, []byte(`{"type":"member","action":"leave","uri":"`+m.selfURI+`"}`), m.signer)
	} else if joined {
		m.repo.Erase(ctx, convID)
		m.convMu.Lock()
		delete(m.convs, convID)
		m.convMu.Unlock()
	}

	m.emit(models.EventConversationRemoved, map[string]interface{}{"conversation_id": convID})
	return nil
}
