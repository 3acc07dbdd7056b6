package usecase

import (
	"context"
	"time"

	"github.com/meshid-core/core/internal/platform/arena"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// drainInterval is DESIGN.md's Open Question 3 decision: a literal 10ms
// cadence, matching the polling granularity spec.md section 4.5.1 implies
// for the pending-fetch drainer.
const drainInterval = 10 * time.Millisecond

// RunDrainer blocks, calling DrainOnce every drainInterval until ctx is
// canceled. The composition root runs this as a background goroutine.
func (m *Module) RunDrainer(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes every pending-fetch entry whose socket has arrived
// and which is not already being materialized, per spec.md section 4.5.1.
// Exported directly so tests can step the drainer deterministically instead
// of racing a real ticker.
func (m *Module) DrainOnce(ctx context.Context) {
	m.pendingMu.Lock()
	var ids []string
	for convID, p := range m.pending {
		if p.Ready && !p.Cloning {
			if _, ok := m.sockets[convID]; ok {
				p.Cloning = true
				ids = append(ids, convID)
			}
		}
	}
	m.pendingMu.Unlock()

	for _, convID := range ids {
		m.handlePendingConversation(ctx, convID)
	}
}

func (m *Module) handlePendingConversation(ctx context.Context, convID string) {
	m.pendingMu.Lock()
	p := m.pending[convID]
	handle, hasHandle := m.sockets[convID]
	m.pendingMu.Unlock()
	if p == nil || !hasHandle {
		return
	}
	socket, ok := m.socketArena.Get(handle)
	if !ok {
		// The handle expired (torn down by a concurrent removal) between
		// the scan and this call; nothing left to do.
		m.pendingMu.Lock()
		delete(m.pending, convID)
		delete(m.sockets, convID)
		m.pendingMu.Unlock()
		return
	}

	if err := m.repo.Clone(ctx, convID, socket); err != nil {
		m.teardownPending(ctx, convID, handle, socket, true)
		return
	}

	info, known := m.ConvInfo(convID)
	if !known || !info.IsMember(m.selfURI) {
		m.teardownPending(ctx, convID, handle, socket, true)
		return
	}
	if info.IsRemoved() {
		m.teardownPending(ctx, convID, handle, socket, info.IsErased())
		return
	}

	if _, err := m.repo.Commit(ctx, convID, []byte(`{"type":"member","action":"join","uri":"`+m.selfURI+`"}`), m.signer); err != nil {
		m.teardownPending(ctx, convID, handle, socket, false)
		return
	}

	m.pendingMu.Lock()
	stashed := m.replay[convID]
	delete(m.replay, convID)
	lastDisplayed := p.LastDisplayed
	m.pendingMu.Unlock()

	for _, payload := range stashed {
		m.repo.Commit(ctx, convID, payload, m.signer)
	}

	if lastDisplayed != "" {
		m.infoMu.Lock()
		info = m.infos[convID]
		info.LastDisplayed = lastDisplayed
		m.infos[convID] = info
		m.infoMu.Unlock()
		m.persistInfos()
	}

	m.convMu.Lock()
	m.convs[convID] = &conversationState{info: info}
	m.convMu.Unlock()

	m.pendingMu.Lock()
	delete(m.pending, convID)
	delete(m.sockets, convID)
	m.pendingMu.Unlock()
	m.socketArena.Remove(handle)
	socket.Close()

	m.emit(models.EventConversationReady, map[string]interface{}{"conversation_id": convID})

	if m.sender != nil {
		for _, peer := range info.Members {
			if peer == m.selfURI {
				continue
			}
			m.sender.Send(peer, "text/vcard", []byte(m.selfURI))
		}
	}
}

func (m *Module) teardownPending(ctx context.Context, convID string, handle arena.Handle, socket ports.ChannelSocket, erase bool) {
	m.pendingMu.Lock()
	delete(m.pending, convID)
	delete(m.sockets, convID)
	delete(m.replay, convID)
	m.pendingMu.Unlock()
	m.socketArena.Remove(handle)
	if socket != nil {
		socket.Close()
	}
	if erase {
		m.repo.Erase(ctx, convID)
	}
}
