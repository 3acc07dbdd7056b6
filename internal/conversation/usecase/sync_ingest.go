package usecase

import (
	"context"

	"github.com/meshid-core/core/internal/conversation/domain"
	"github.com/meshid-core/core/pkg/models"
)

// OnSyncData implements spec.md section 4.5.7: apply the four conversation
// partitions of an incoming SyncMsg. Errors along the way are ignored
// without being logged or returned (spec.md section 7), so a malformed or
// stale peer entry never aborts the rest of the batch.
func (m *Module) OnSyncData(ctx context.Context, msg models.SyncMsg, peerURI, deviceID string) {
	for convID, incoming := range msg.ConvInfos {
		m.applyConvInfo(ctx, convID, incoming, peerURI, deviceID)
	}
	for convID, incoming := range msg.ConvRequests {
		m.applyConvRequest(convID, incoming)
	}
	for convID, prefs := range msg.Preferences {
		m.applyPreferences(convID, prefs)
	}
	for convID, entry := range msg.LastDisplayed {
		m.applyLastDisplayed(convID, entry)
	}
}

func (m *Module) applyConvInfo(ctx context.Context, convID string, incoming models.ConvInfo, peerURI, deviceID string) {
	m.infoMu.Lock()
	local, known := m.infos[convID]
	action := domain.DecideSyncAction(local, known, incoming)

	switch action {
	case domain.ActionClone:
		// A tombstoned local entry (removed, possibly erased) is
		// superseded wholesale by the newer incoming epoch rather than
		// merged with it, so the old removal never bleeds into the new
		// instance's timestamps.
		merged := incoming
		if known && !local.IsRemoved() {
			merged = domain.MergeConvInfo(local, incoming)
		}
		m.infos[convID] = merged
		m.infoMu.Unlock()
		m.persistInfos()
		m.beginFetch(ctx, deviceID, peerURI, convID)
		return
	case domain.ActionSoftRemove, domain.ActionEraseRepo:
		merged := incoming
		if known {
			merged = domain.MergeConvInfo(local, incoming)
		}
		m.infos[convID] = merged
	case domain.ActionIgnore:
		m.infoMu.Unlock()
		return
	}
	m.infoMu.Unlock()
	m.persistInfos()

	if action == domain.ActionEraseRepo && m.IsJoined(convID) {
		m.repo.Erase(ctx, convID)
		m.convMu.Lock()
		delete(m.convs, convID)
		m.convMu.Unlock()
	}
}

func (m *Module) applyConvRequest(convID string, incoming models.ConversationRequest) {
	if _, accepted := m.ConvInfo(convID); accepted {
		return
	}
	m.reqMu.Lock()
	local, known := m.reqs[convID]
	m.reqs[convID] = domain.MergeConversationRequest(local, known, incoming)
	m.reqMu.Unlock()
	m.persistRequests()
}

func (m *Module) applyPreferences(convID string, prefs map[string]string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if p, ok := m.pending[convID]; ok {
		if p.Preferences == nil {
			p.Preferences = map[string]string{}
		}
		for k, v := range prefs {
			p.Preferences[k] = v
		}
	}
}

func (m *Module) applyLastDisplayed(convID string, entry models.LastDisplayedEntry) {
	if m.IsJoined(convID) {
		m.infoMu.Lock()
		info := m.infos[convID]
		live := models.LastDisplayedEntry{MessageID: info.LastDisplayed}
		winner := domain.LastDisplayedWinner(live, entry)
		info.LastDisplayed = winner.MessageID
		m.infos[convID] = info
		m.infoMu.Unlock()
		m.persistInfos()
		return
	}
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if p, ok := m.pending[convID]; ok {
		p.LastDisplayed = entry.MessageID
	}
}
