package usecase

import (
	"context"

	"github.com/meshid-core/core/internal/conversation/domain"
	"github.com/meshid-core/core/pkg/models"
)

// OnTrustRequest implements spec.md section 4.5.5: an incoming invite for a
// new 1:1 or group conversation. Gated by domain.ShouldAcceptRequest so a
// duplicate or already-accepted invite is silently dropped.
func (m *Module) OnTrustRequest(fromURI, convID string, receivedAt int64, vcard []byte) error {
	return m.recordRequest(fromURI, models.ConversationRequest{
		ConversationID: convID,
		From:           fromURI,
		ReceivedAt:     receivedAt,
		Metadata:       map[string]string{"vcard": string(vcard)},
	})
}

// OnConversationRequest implements the group-invite variant of the same
// gate (spec.md section 4.5.5), carrying a fully formed request payload
// instead of a bare vcard.
func (m *Module) OnConversationRequest(fromURI string, req models.ConversationRequest) error {
	return m.recordRequest(fromURI, req)
}

func (m *Module) recordRequest(fromURI string, req models.ConversationRequest) error {
	hasActive1to1 := m.HasActiveOneToOne != nil && m.HasActiveOneToOne(fromURI)
	_, known := m.ConvInfo(req.ConversationID)

	m.reqMu.Lock()
	_, alreadyPending := m.reqs[req.ConversationID]
	if !domain.ShouldAcceptRequest(hasActive1to1, known, alreadyPending) {
		m.reqMu.Unlock()
		return nil
	}
	m.reqs[req.ConversationID] = req
	m.reqMu.Unlock()
	m.persistRequests()

	m.emit(models.EventTrustRequestIncoming, map[string]interface{}{"conversation_id": req.ConversationID, "from": fromURI})
	m.emit(models.EventConversationRequestReceived, map[string]interface{}{"conversation_id": req.ConversationID, "from": fromURI})
	return nil
}

// AcceptConversationRequest implements spec.md section 4.5.5's acceptance
// path: the request is consumed and a clone is attempted against each of
// the peer's known devices.
func (m *Module) AcceptConversationRequest(ctx context.Context, convID string, peerDevices []string) error {
	m.reqMu.Lock()
	req, ok := m.reqs[convID]
	if ok {
		delete(m.reqs, convID)
	}
	m.reqMu.Unlock()
	if !ok {
		return ErrRequestUnknown
	}
	m.persistRequests()

	var lastErr error
	for _, deviceID := range peerDevices {
		if err := m.CloneConversation(ctx, deviceID, req.From, convID, ""); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// DeclineConversationRequest implements spec.md section 4.5.5's decline
// path: the request is stamped declined rather than deleted, so a
// re-invite from the same peer does not resurrect it (DESIGN.md Open
// Question 2).
func (m *Module) DeclineConversationRequest(convID string) error {
	m.reqMu.Lock()
	req, ok := m.reqs[convID]
	if !ok {
		m.reqMu.Unlock()
		return ErrRequestUnknown
	}
	req.DeclinedAt = m.now()
	m.reqs[convID] = req
	m.reqMu.Unlock()
	m.persistRequests()

	m.emit(models.EventConversationRequestDeclined, map[string]interface{}{"conversation_id": convID})
	return nil
}
